// Package config centralises all path construction for the Catapult data
// directory (spec.md §4.3). Grounded on
// original_source/client/catapult/src/catapult/config/CatapultDataDirectory.h.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Directory is a single directory path with helpers for building file paths
// inside it.
type Directory struct {
	path string
}

// NewDirectory wraps path without touching the filesystem.
func NewDirectory(path string) Directory { return Directory{path: path} }

// Str returns the directory path as a string.
func (d Directory) Str() string { return d.path }

// File returns the path of the file named name inside this directory.
func (d Directory) File(name string) string { return filepath.Join(d.path, name) }

// Create ensures the directory (and any missing parents) exists.
func (d Directory) Create() error {
	if err := os.MkdirAll(d.path, 0755); err != nil {
		return fmt.Errorf("catapult: create directory %s: %w", d.path, err)
	}
	return nil
}

// DataDirectory is the root of a Catapult node's on-disk state and
// resolves every canonical path the recovery/commit protocol depends on
// (spec.md §4.3, §6.2). The layout is bit-exact: padding widths and
// separators below must never change independently of a broker upgrade.
type DataDirectory struct {
	root string
}

// NewDataDirectory wraps root without touching the filesystem.
func NewDataDirectory(root string) DataDirectory { return DataDirectory{root: root} }

// RootDir returns the top-level data directory.
func (d DataDirectory) RootDir() Directory { return NewDirectory(d.root) }

// Dir returns the named subdirectory of the root (e.g. "state", "importance").
func (d DataDirectory) Dir(name string) Directory { return NewDirectory(filepath.Join(d.root, name)) }

// SpoolDir returns the queue directory for the named subscriber fanout
// queue, rooted at <root>/spool/<name>.
func (d DataDirectory) SpoolDir(name string) Directory {
	return NewDirectory(filepath.Join(d.root, "spool", name))
}

// Shard width constants for block/staged-block sharding (spec.md §3.4):
// shard(k) = k/10000, seq(k) = k%10000, both formatted as 5-digit decimal.
const shardDivisor = 10000

// ShardSeq computes the shard and sequence components of a content key k.
func ShardSeq(k uint64) (shard, seq string) {
	return fmt.Sprintf("%05d", k/shardDivisor), fmt.Sprintf("%05d", k%shardDivisor)
}

// StorageFile returns the path of the storage file for content key k with
// extension ext (including the leading dot) inside root.
func StorageFile(root string, k uint64, ext string) string {
	shard, seq := ShardSeq(k)
	return filepath.Join(root, shard, seq+ext)
}

// ShardDir returns (and does not create) the shard subdirectory of root
// that key k's storage file lives in.
func ShardDir(root string, k uint64) Directory {
	shard, _ := ShardSeq(k)
	return NewDirectory(filepath.Join(root, shard))
}

// Prepare creates <root> and <root>/spool if absent, deliberately touching
// nothing else — every other subdirectory is created on demand by the
// component that owns it (spec.md §4.3).
func Prepare(root string) (DataDirectory, error) {
	dd := NewDataDirectory(root)
	if err := dd.RootDir().Create(); err != nil {
		return DataDirectory{}, err
	}
	if err := NewDirectory(filepath.Join(root, "spool")).Create(); err != nil {
		return DataDirectory{}, err
	}
	return dd, nil
}
