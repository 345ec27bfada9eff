package io

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"
	"github.com/ledgerwatch/catapult/errs"
)

// indexFileSize is the fixed on-disk size of an IndexFile: one little-endian
// uint64 counter (spec.md §3.1, §6.1).
const indexFileSize = 8

// IndexFile is a single 64-bit unsigned counter stored in one regular file,
// read and updated atomically with respect to other goroutines in this
// process (spec.md §4.1). Cross-process exclusion is the caller's
// responsibility (spec.md §3.7) — a running node owns its data directory.
type IndexFile struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewIndexFile binds an IndexFile to path without touching the filesystem.
func NewIndexFile(path string) *IndexFile {
	return &IndexFile{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the backing file path.
func (f *IndexFile) Path() string { return f.path }

// Exists reports whether the backing file is present.
func (f *IndexFile) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Get reads the current counter value. Some call sites (spec.md §3.1) treat
// a missing file as 0; this method instead returns an error so the caller
// can decide which behavior applies. Use GetOrZero for the tolerant variant.
func (f *IndexFile) Get() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

// GetOrZero returns 0 if the file does not exist, otherwise its value.
func (f *IndexFile) GetOrZero() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		return 0, nil
	}
	return f.readLocked()
}

func (f *IndexFile) readLocked() (uint64, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return 0, fmt.Errorf("catapult: read index file %s: %w", f.path, err)
	}
	if len(data) != indexFileSize {
		return 0, fmt.Errorf("%w: index file %s has length %d, want %d", errs.ErrCorruption, f.path, len(data), indexFileSize)
	}
	return binary.LittleEndian.Uint64(data), nil
}

// Set truncates the file to exactly 8 bytes, writes v little-endian, and
// fsyncs before returning (spec.md §4.1).
func (f *IndexFile) Set(v uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setLocked(v)
}

func (f *IndexFile) setLocked(v uint64) error {
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("catapult: lock index file %s: %w", f.path, err)
	}
	defer f.lock.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("catapult: open index file %s: %w", f.path, err)
	}
	defer file.Close()

	var buf [indexFileSize]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if _, err := file.Write(buf[:]); err != nil {
		return fmt.Errorf("catapult: write index file %s: %w", f.path, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("catapult: fsync index file %s: %w", f.path, err)
	}
	return nil
}

// Increment is equivalent to Set(Get()+1) performed atomically with respect
// to other goroutines holding this IndexFile, and returns the new value.
func (f *IndexFile) Increment() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.readOrZeroLocked()
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := f.setLocked(next); err != nil {
		return 0, err
	}
	return next, nil
}

func (f *IndexFile) readOrZeroLocked() (uint64, error) {
	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		return 0, nil
	}
	return f.readLocked()
}

// Delete removes the backing file. Absence is not an error.
func (f *IndexFile) Delete() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("catapult: remove index file %s: %w", f.path, err)
	}
	return nil
}
