package storage

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ledgerwatch/catapult/errs"
	"github.com/ledgerwatch/catapult/model"
)

func testElement(height uint64, body byte) model.BlockElement {
	var hash model.Hash256
	hash[0] = body
	return model.BlockElement{
		Block: model.Block{Height: model.Height(height), Body: []byte{body, body, body}},
		Hash:  hash,
	}
}

func TestBlockStorageSaveThenLoad(t *testing.T) {
	root := t.TempDir()
	s := NewBlockStorage(root)

	for h := uint64(1); h <= 3; h++ {
		if err := s.SaveBlock(testElement(h, byte(h)), false); err != nil {
			t.Fatalf("save height %d: %v", h, err)
		}
	}

	height, err := s.ChainHeight()
	if err != nil {
		t.Fatal(err)
	}
	if height != 3 {
		t.Fatalf("chain height = %d, want 3", height)
	}

	el, err := s.LoadBlockElement(2)
	if err != nil {
		t.Fatal(err)
	}
	want := testElement(2, 2)
	if !bytes.Equal(el.Block.Body, want.Block.Body) || el.Hash != want.Hash {
		t.Fatalf("loaded element %+v, want %+v", el, want)
	}
}

func TestBlockStorageNonContiguousSaveFails(t *testing.T) {
	root := t.TempDir()
	s := NewBlockStorage(root)
	if err := s.SaveBlock(testElement(2, 2), false); !errors.Is(err, errs.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestBlockStorageStrictDuplicateSaveFails(t *testing.T) {
	root := t.TempDir()
	s := NewBlockStorage(root)
	if err := s.SaveBlock(testElement(1, 1), false); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveBlock(testElement(1, 9), false); !errors.Is(err, errs.ErrAlreadyPresent) {
		t.Fatalf("expected ErrAlreadyPresent, got %v", err)
	}
}

func TestBlockStorageIdempotentOverwriteLeavesIndexUntouched(t *testing.T) {
	root := t.TempDir()
	s := NewBlockStorage(root)
	if err := s.SaveBlock(testElement(1, 1), false); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveBlock(testElement(1, 9), true); err != nil {
		t.Fatalf("idempotent overwrite: %v", err)
	}
	height, err := s.ChainHeight()
	if err != nil {
		t.Fatal(err)
	}
	if height != 1 {
		t.Fatalf("chain height = %d, want 1 (unchanged by idempotent overwrite)", height)
	}
	el, err := s.LoadBlockElement(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(el.Block.Body, []byte{9, 9, 9}) {
		t.Fatalf("expected overwritten body, got %x", el.Block.Body)
	}
}

func TestBlockStorageDropBlocksAfter(t *testing.T) {
	root := t.TempDir()
	s := NewBlockStorage(root)
	for h := uint64(1); h <= 5; h++ {
		if err := s.SaveBlock(testElement(h, byte(h)), false); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.DropBlocksAfter(2); err != nil {
		t.Fatal(err)
	}
	height, err := s.ChainHeight()
	if err != nil {
		t.Fatal(err)
	}
	if height != 2 {
		t.Fatalf("chain height = %d, want 2", height)
	}
	if _, err := s.LoadBlockElement(3); err == nil {
		t.Fatal("expected height 3 to be removed")
	}
	if _, err := s.LoadBlockElement(2); err != nil {
		t.Fatalf("height 2 should still load: %v", err)
	}
}

func TestBlockStoragePromoteStaged(t *testing.T) {
	root := t.TempDir()
	canonical := NewBlockStorage(root)
	staged := NewBlockStorage(filepath.Join(root, "spool", "block_sync"))

	if err := canonical.SaveBlock(testElement(1, 1), false); err != nil {
		t.Fatal(err)
	}
	if err := staged.writeElementFile(testElement(2, 2)); err != nil {
		t.Fatal(err)
	}

	if err := canonical.PromoteStaged(staged, 2); err != nil {
		t.Fatal(err)
	}
	height, err := canonical.ChainHeight()
	if err != nil {
		t.Fatal(err)
	}
	if height != 2 {
		t.Fatalf("chain height = %d, want 2", height)
	}
	el, err := canonical.LoadBlockElement(2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(el.Block.Body, []byte{2, 2, 2}) {
		t.Fatalf("promoted body = %x, want {2,2,2}", el.Block.Body)
	}
}

func TestHotCacheAndBlockIndexAreAccelerators(t *testing.T) {
	root := t.TempDir()
	hot := NewBlockHotCache(1 << 20)
	idxPath := filepath.Join(root, "index.mdb")
	idx, err := OpenBlockIndex(idxPath)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	s := NewBlockStorage(root, WithHotCache(hot), WithBlockIndex(idx))
	for h := uint64(1); h <= 3; h++ {
		if err := s.SaveBlock(testElement(h, byte(h)), false); err != nil {
			t.Fatal(err)
		}
	}

	// Load through a fresh BlockStorage with neither accelerator wired; the
	// load must still succeed from the canonical shard tree alone
	// (SPEC_FULL.md §8 item 6).
	fresh := NewBlockStorage(root)
	el, err := fresh.LoadBlockElement(2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(el.Block.Body, []byte{2, 2, 2}) {
		t.Fatalf("fallback load body = %x, want {2,2,2}", el.Block.Body)
	}

	if err := RebuildBlockIndex(idx, root, 3); err != nil {
		t.Fatal(err)
	}
	rec, ok, err := idx.Lookup(3)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected rebuilt index entry for height 3")
	}
	if rec.Hash[0] != 3 {
		t.Fatalf("rebuilt hash[0] = %d, want 3", rec.Hash[0])
	}
}
