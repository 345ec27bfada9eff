package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ledgerwatch/catapult/cache"
	"github.com/ledgerwatch/catapult/errs"
	"github.com/ledgerwatch/catapult/model"
)

func TestStateStorageSaveThenMoveTo(t *testing.T) {
	root := t.TempDir()
	registry := cache.NewRegistry(cache.NewLengthPrefixedStorage(1), cache.NewLengthPrefixedStorage(2))
	s := NewStateStorage(root)

	changes := model.CacheChanges{Entries: []model.CacheChangeEntry{
		{CacheID: 1, Payload: []byte("alpha")},
		{CacheID: 2, Payload: []byte("beta")},
	}}
	if err := s.Save(registry, changes, model.ChainScore{High: 1, Low: 2}, 7); err != nil {
		t.Fatal(err)
	}

	if err := VerifySidecars(s.tmpDir()); err != nil {
		t.Fatalf("sidecars should verify after Save: %v", err)
	}

	payload, err := LoadSubCache(s.tmpDir(), 1, cache.NewLengthPrefixedStorage(1))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(payload, []byte("alpha")) {
		t.Fatalf("loaded payload = %q, want %q", payload, "alpha")
	}

	dest := filepath.Join(root, "state")
	if err := s.MoveTo(dest); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.tmpDir()); !os.IsNotExist(err) {
		t.Fatal("expected state.tmp to be gone after MoveTo")
	}
	if _, err := os.Stat(filepath.Join(dest, "1.dat")); err != nil {
		t.Fatalf("expected promoted sub-cache file: %v", err)
	}
}

func TestStateStorageMoveToExistingDestFails(t *testing.T) {
	root := t.TempDir()
	registry := cache.NewRegistry()
	s := NewStateStorage(root)
	if err := s.Save(registry, model.CacheChanges{}, model.ChainScore{}, 1); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(root, "state")
	if err := os.MkdirAll(dest, 0755); err != nil {
		t.Fatal(err)
	}
	if err := s.MoveTo(dest); !errors.Is(err, errs.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestVerifySidecarsDetectsCorruption(t *testing.T) {
	root := t.TempDir()
	registry := cache.NewRegistry(cache.NewLengthPrefixedStorage(1))
	s := NewStateStorage(root)
	changes := model.CacheChanges{Entries: []model.CacheChangeEntry{{CacheID: 1, Payload: []byte("x")}}}
	if err := s.Save(registry, changes, model.ChainScore{}, 1); err != nil {
		t.Fatal(err)
	}

	// Corrupt the sub-cache file without updating its sidecar.
	dataPath := filepath.Join(s.tmpDir(), "1.dat")
	if err := os.WriteFile(dataPath, []byte("corrupted"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := VerifySidecars(s.tmpDir()); !errors.Is(err, errs.ErrCorruption) {
		t.Fatalf("expected ErrCorruption, got %v", err)
	}
}

func TestVerifySidecarsMissingSidecarIsCorruption(t *testing.T) {
	root := t.TempDir()
	registry := cache.NewRegistry(cache.NewLengthPrefixedStorage(1))
	s := NewStateStorage(root)
	changes := model.CacheChanges{Entries: []model.CacheChangeEntry{{CacheID: 1, Payload: []byte("x")}}}
	if err := s.Save(registry, changes, model.ChainScore{}, 1); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(s.tmpDir(), "1.dat.xxh3")); err != nil {
		t.Fatal(err)
	}
	if err := VerifySidecars(s.tmpDir()); !errors.Is(err, errs.ErrCorruption) {
		t.Fatalf("expected ErrCorruption for missing sidecar, got %v", err)
	}
}

func TestVerifySidecarsOnAbsentDirIsNoop(t *testing.T) {
	if err := VerifySidecars(filepath.Join(t.TempDir(), "does-not-exist")); err != nil {
		t.Fatalf("expected nil for absent directory, got %v", err)
	}
}
