package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ledgerwatch/catapult/config"
	"github.com/ledgerwatch/catapult/errs"
	catio "github.com/ledgerwatch/catapult/io"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/wire"
)

// blockFileExt is the extension of both plain-block and block-element
// files; the two shapes are distinguished by which encoder wrote them, not
// by name (spec.md §3.4, §6.1).
const blockFileExt = ".dat"

// BlockStorage is a height-indexed block store rooted at a directory,
// tracking its own height in <root>/index.dat (spec.md §3.4, §4.4). The
// same type serves both the canonical store (rooted at the data-directory
// root) and the staged store (rooted at <root>/spool/block_sync/, per
// spec.md §3.4's "staged block storage has the same API").
type BlockStorage struct {
	root  string
	index *catio.IndexFile
	cache *BlockHotCache
	idx   *BlockIndex
}

// BlockStorageOption wires an accelerator into a BlockStorage at
// construction (SPEC_FULL.md §2 components J/K).
type BlockStorageOption func(*BlockStorage)

// WithHotCache installs a BlockHotCache consulted before any file I/O.
func WithHotCache(c *BlockHotCache) BlockStorageOption {
	return func(s *BlockStorage) { s.cache = c }
}

// WithBlockIndex installs a BlockIndex consulted on a hot-cache miss.
func WithBlockIndex(idx *BlockIndex) BlockStorageOption {
	return func(s *BlockStorage) { s.idx = idx }
}

// NewBlockStorage binds a BlockStorage to root without touching the
// filesystem beyond what IndexFile construction requires.
func NewBlockStorage(root string, opts ...BlockStorageOption) *BlockStorage {
	s := &BlockStorage{root: root, index: catio.NewIndexFile(filepath.Join(root, "index.dat"))}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BlockStorage) path(h model.Height) string {
	return config.StorageFile(s.root, uint64(h), blockFileExt)
}

// ChainHeight reads the root index.dat; absent means height 0 (spec.md
// §4.4).
func (s *BlockStorage) ChainHeight() (model.Height, error) {
	v, err := s.index.GetOrZero()
	if err != nil {
		return 0, err
	}
	return model.Height(v), nil
}

// LoadBlock deserialises the plain block body at height h.
func (s *BlockStorage) LoadBlock(h model.Height) (model.Block, error) {
	f, err := os.Open(s.path(h))
	if err != nil {
		return model.Block{}, fmt.Errorf("catapult: open block file for height %d: %w", h, err)
	}
	defer f.Close()
	body, err := wire.DecodeBlock(f)
	if err != nil {
		return model.Block{}, err
	}
	return model.Block{Height: h, Body: body}, nil
}

// LoadBlockElement deserialises the block body and hash at height h,
// consulting the hot cache and block index accelerators (SPEC_FULL.md §4.4)
// before falling back to the canonical shard/seq path.
func (s *BlockStorage) LoadBlockElement(h model.Height) (model.BlockElement, error) {
	if s.cache != nil {
		if el, ok := s.cache.Get(h); ok {
			return el, nil
		}
	}

	path := s.path(h)
	if s.idx != nil {
		if rec, ok, err := s.idx.Lookup(h); err == nil && ok {
			path = filepath.Join(s.root, rec.Shard, rec.Seq+blockFileExt)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return model.BlockElement{}, fmt.Errorf("catapult: open block-element file for height %d: %w", h, err)
	}
	body, hash, err := wire.DecodeBlockElement(f)
	f.Close()
	if err != nil {
		return model.BlockElement{}, err
	}
	el := model.BlockElement{Block: model.Block{Height: h, Body: body}, Hash: hash}

	if s.idx != nil {
		shard, seq := config.ShardSeq(uint64(h))
		_ = s.idx.Put(h, BlockIndexRecord{Shard: shard, Seq: seq, Hash: hash})
	}
	if s.cache != nil {
		s.cache.Put(el)
	}
	return el, nil
}

// readElementHash opens a block-element file and returns only its trailing
// hash, used by RebuildBlockIndex to avoid holding every block body in
// memory during a full rebuild.
func readElementHash(path string) (model.Hash256, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Hash256{}, err
	}
	defer f.Close()
	_, hash, err := wire.DecodeBlockElement(f)
	return hash, err
}

// SaveBlock writes element as the new head of the chain. In strict mode
// (idempotent=false) it requires element.Height == ChainHeight()+1 and
// fails with ErrAlreadyPresent if a file already exists at that height. In
// idempotent mode (used by recovery) a save at or below the current height
// overwrites the existing file and leaves the index untouched (spec.md
// §4.4, §7).
func (s *BlockStorage) SaveBlock(el model.BlockElement, idempotent bool) error {
	height, err := s.ChainHeight()
	if err != nil {
		return err
	}

	switch {
	case el.Block.Height == height+1:
		// contiguous append: fall through to write + advance.
	case el.Block.Height <= height:
		if !idempotent {
			return fmt.Errorf("%w: height %d", errs.ErrAlreadyPresent, el.Block.Height)
		}
		// idempotent overwrite: write the file but do not touch the index.
		return s.writeElementFile(el)
	default:
		return fmt.Errorf("%w: save height %d is not contiguous with chain height %d", errs.ErrInvariantViolation, el.Block.Height, height)
	}

	if err := s.writeElementFile(el); err != nil {
		return err
	}
	return s.index.Set(uint64(el.Block.Height))
}

func (s *BlockStorage) writeElementFile(el model.BlockElement) error {
	dir := config.ShardDir(s.root, uint64(el.Block.Height))
	if err := dir.Create(); err != nil {
		return err
	}
	path := s.path(el.Block.Height)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("catapult: open block-element file for height %d: %w", el.Block.Height, err)
	}
	if err := wire.EncodeBlockElement(f, el.Block.Body, el.Hash); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("catapult: fsync block-element file for height %d: %w", el.Block.Height, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("catapult: close block-element file for height %d: %w", el.Block.Height, err)
	}
	if s.idx != nil {
		shard, seq := config.ShardSeq(uint64(el.Block.Height))
		_ = s.idx.Put(el.Block.Height, BlockIndexRecord{Shard: shard, Seq: seq, Hash: el.Hash})
	}
	if s.cache != nil {
		s.cache.Put(el)
	}
	return nil
}

// DropBlocksAfter truncates the canonical chain back to height h, removing
// files before advancing the index down (spec.md §4.4: "the inverse of
// save_block").
func (s *BlockStorage) DropBlocksAfter(h model.Height) error {
	height, err := s.ChainHeight()
	if err != nil {
		return err
	}
	for height > h {
		if err := os.Remove(s.path(height)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("catapult: remove block file for height %d: %w", height, err)
		}
		if s.idx != nil {
			_ = s.idx.Delete(height)
		}
		if s.cache != nil {
			s.cache.Invalidate(height)
		}
		height--
	}
	return s.index.Set(uint64(h))
}

// PromoteStaged moves the block file for height h from staged (rooted at
// <root>/spool/block_sync/) into s's canonical shard tree, then advances
// s's index to h (spec.md §4.4, §4.6 step 4). It does not advance staged's
// own index — staged storage has no side effects on the canonical index by
// construction (spec.md §3.4) and the caller (recovery/commit-step) tracks
// promotion progress independently.
func (s *BlockStorage) PromoteStaged(staged *BlockStorage, h model.Height) error {
	dir := config.ShardDir(s.root, uint64(h))
	if err := dir.Create(); err != nil {
		return err
	}
	src, dst := staged.path(h), s.path(h)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("catapult: promote staged block %d: %w", h, err)
	}
	if err := s.index.Set(uint64(h)); err != nil {
		return err
	}
	if staged.idx != nil {
		_ = staged.idx.Delete(h)
	}
	if staged.cache != nil {
		staged.cache.Invalidate(h)
	}
	return nil
}
