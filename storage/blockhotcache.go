package storage

import (
	"bytes"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/wire"
)

// BlockHotCache is an in-process cache of recently loaded/saved block
// elements, keyed by height (SPEC_FULL.md §2 component K, §3). It holds the
// same bytes EncodeBlockElement would produce, so a hit can be decoded
// without touching the filesystem at all.
type BlockHotCache struct {
	c *fastcache.Cache
}

// NewBlockHotCache allocates a fastcache.Cache bounded at maxBytes.
func NewBlockHotCache(maxBytes int) *BlockHotCache {
	return &BlockHotCache{c: fastcache.New(maxBytes)}
}

func (c *BlockHotCache) key(h model.Height) []byte {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(h >> (8 * i))
	}
	return buf[:]
}

// Put stores el under its height, encoded the same way canonical block
// storage encodes it on disk.
func (c *BlockHotCache) Put(el model.BlockElement) {
	var buf bytes.Buffer
	if err := wire.EncodeBlockElement(&buf, el.Block.Body, el.Hash); err != nil {
		return
	}
	c.c.SetBig(c.key(el.Block.Height), buf.Bytes())
}

// Get returns the cached element for h, if present.
func (c *BlockHotCache) Get(h model.Height) (model.BlockElement, bool) {
	raw := c.c.GetBig(nil, c.key(h))
	if raw == nil {
		return model.BlockElement{}, false
	}
	body, hash, err := wire.DecodeBlockElement(bytes.NewReader(raw))
	if err != nil {
		return model.BlockElement{}, false
	}
	return model.BlockElement{Block: model.Block{Height: h, Body: body}, Hash: hash}, true
}

// Invalidate evicts the cached entry for h, used by DropBlocksAfter so a
// dropped height cannot be served stale from the cache.
func (c *BlockHotCache) Invalidate(h model.Height) {
	c.c.Del(c.key(h))
}
