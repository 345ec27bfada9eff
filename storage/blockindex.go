// Package storage implements the canonical and staged block stores, the
// state directory promotion protocol, and the two accelerators layered on
// top of them (block index, block hot cache). No io/BlockStorage.{h,cpp}
// header was retrieved into the example pack (the only *BlockStorage*
// file present is extensions/mongo/src/MongoBlockStorage.cpp, an
// unrelated Mongo indexing layer), so the bit-exact store and promotion
// semantics below follow spec.md §3.4/§4.4 directly, with
// original_source/client/catapult/src/catapult/config/CatapultDataDirectory.h
// grounding the shard/seq directory layout.
package storage

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/ledgerwatch/catapult/config"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/lmdb-go/lmdb"
)

// blockIndexDBI is the single LMDB database name inside index.mdb.
const blockIndexDBI = "blockindex"

// BlockIndexRecord is the cached (shard, seq, hash) tuple for one height
// (SPEC_FULL.md §3, component J). Purely an accelerator: the shard/seq
// components are always re-derivable from the height via config.ShardSeq,
// so a missing or deleted record never causes data loss, only a cache miss.
type BlockIndexRecord struct {
	Shard string
	Seq   string
	Hash  model.Hash256
}

// BlockIndex is an LMDB-backed side cache at <root>/index.mdb mapping
// big-endian u64 height to a BlockIndexRecord (SPEC_FULL.md §2 component J,
// §3). Grounded on turbo-geth's LMDB usage in common/dbutils/bucket.go and
// ethdb/bitmapdb for the bucket-per-concern layout.
type BlockIndex struct {
	env *lmdb.Env
}

// OpenBlockIndex opens (creating if absent) the LMDB environment at path.
// path is a single file, not a directory (lmdb.NoSubdir), matching
// SPEC_FULL.md §6's "<root>/index.mdb" layout entry.
func OpenBlockIndex(path string) (*BlockIndex, error) {
	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("catapult: create lmdb env: %w", err)
	}
	if err := env.SetMapSize(1 << 30); err != nil {
		env.Close()
		return nil, fmt.Errorf("catapult: set block index map size: %w", err)
	}
	if err := env.SetMaxDBs(1); err != nil {
		env.Close()
		return nil, fmt.Errorf("catapult: set block index max dbs: %w", err)
	}
	if err := env.Open(path, lmdb.NoSubdir, 0644); err != nil {
		env.Close()
		return nil, fmt.Errorf("catapult: open block index %s: %w", path, err)
	}
	idx := &BlockIndex{env: env}
	if err := idx.env.Update(func(txn *lmdb.Txn) error {
		_, err := txn.OpenDBI(blockIndexDBI, lmdb.Create)
		return err
	}); err != nil {
		env.Close()
		return nil, fmt.Errorf("catapult: create block index database: %w", err)
	}
	return idx, nil
}

// Close releases the LMDB environment. The underlying index.mdb file is
// left on disk and may be safely deleted while the node is stopped
// (SPEC_FULL.md §8 item 6).
func (idx *BlockIndex) Close() error {
	idx.env.Close()
	return nil
}

func heightKey(h model.Height) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(h))
	return key[:]
}

const blockIndexRecordSize = 5 + 5 + 32 // shard + seq (5-digit decimal ASCII each) + hash

func encodeRecord(rec BlockIndexRecord) []byte {
	buf := make([]byte, blockIndexRecordSize)
	copy(buf[0:5], rec.Shard)
	copy(buf[5:10], rec.Seq)
	copy(buf[10:42], rec.Hash[:])
	return buf
}

func decodeRecord(buf []byte) (BlockIndexRecord, error) {
	if len(buf) != blockIndexRecordSize {
		return BlockIndexRecord{}, fmt.Errorf("catapult: block index record has length %d, want %d", len(buf), blockIndexRecordSize)
	}
	var rec BlockIndexRecord
	rec.Shard = string(buf[0:5])
	rec.Seq = string(buf[5:10])
	copy(rec.Hash[:], buf[10:42])
	return rec, nil
}

// Put records (or overwrites) the index entry for height h.
func (idx *BlockIndex) Put(h model.Height, rec BlockIndexRecord) error {
	return idx.env.Update(func(txn *lmdb.Txn) error {
		dbi, err := txn.OpenDBI(blockIndexDBI, 0)
		if err != nil {
			return err
		}
		return txn.Put(dbi, heightKey(h), encodeRecord(rec), 0)
	})
}

// Lookup returns the cached record for h, and whether it was found.
func (idx *BlockIndex) Lookup(h model.Height) (BlockIndexRecord, bool, error) {
	var rec BlockIndexRecord
	var found bool
	err := idx.env.View(func(txn *lmdb.Txn) error {
		dbi, err := txn.OpenDBI(blockIndexDBI, 0)
		if err != nil {
			return err
		}
		v, err := txn.Get(dbi, heightKey(h))
		if lmdb.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err = decodeRecord(v)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return BlockIndexRecord{}, false, fmt.Errorf("catapult: block index lookup height %d: %w", h, err)
	}
	return rec, found, nil
}

// Delete removes the cached entry for h, if any. Used by DropBlocksAfter so
// a dropped height is never served stale from the index.
func (idx *BlockIndex) Delete(h model.Height) error {
	err := idx.env.Update(func(txn *lmdb.Txn) error {
		dbi, err := txn.OpenDBI(blockIndexDBI, 0)
		if err != nil {
			return err
		}
		err = txn.Del(dbi, heightKey(h), nil)
		if lmdb.IsNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("catapult: block index delete height %d: %w", h, err)
	}
	return nil
}

// RebuildBlockIndex walks the canonical block store from height 1 to
// chainHeight and repopulates idx from scratch, used after a deleted or
// corrupted index.mdb (SPEC_FULL.md §8 item 6). It does not itself read
// blocks through idx, avoiding any circularity with BlockStorage.
func RebuildBlockIndex(idx *BlockIndex, root string, chainHeight model.Height) error {
	for h := model.Height(1); h <= chainHeight; h++ {
		path := config.StorageFile(root, uint64(h), blockFileExt)
		hash, err := readElementHash(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		shard, seq := config.ShardSeq(uint64(h))
		if err := idx.Put(h, BlockIndexRecord{Shard: shard, Seq: seq, Hash: hash}); err != nil {
			return err
		}
	}
	return nil
}
