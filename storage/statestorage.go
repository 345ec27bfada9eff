package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"github.com/ledgerwatch/catapult/cache"
	"github.com/ledgerwatch/catapult/errs"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/wire"
	"github.com/zeebo/xxh3"
)

// supplementalFilename holds the score/height pair plus any opaque scalars
// a deployment wants alongside it. Its contents are opaque to spec.md §6.1
// ("treated atomically"); this core only needs score and height round-trip,
// since subscriber notification (spec.md §4.5) carries everything else.
const supplementalFilename = "supplemental.dat"

// StateStorage implements the save/move_to pair of spec.md §4.4 for the
// materialised-cache directories (state/, state.tmp/, importance/,
// importance/wip/). One StateStorage instance manages one such pair,
// rooted at the data-directory root.
type StateStorage struct {
	root string
}

// NewStateStorage binds a StateStorage to the data-directory root.
func NewStateStorage(root string) *StateStorage { return &StateStorage{root: root} }

func (s *StateStorage) tmpDir() string { return filepath.Join(s.root, "state.tmp") }

// TmpDir exposes state.tmp's path so callers outside this package (the
// recovery orchestrator) can verify its sidecar digests before promoting
// it, without this package's private layout leaking further than this one
// accessor.
func (s *StateStorage) TmpDir() string { return s.tmpDir() }

// Save writes supplemental.dat plus one file per entry in changes into
// <root>/state.tmp/ (spec.md §4.4). Each sub-cache file is additionally
// snappy-compressed with an xxh3 sidecar digest of the compressed bytes
// (SPEC_FULL.md §3) — additive framing; the per-cache payload format itself
// remains whatever storage.Save/Load define, unchanged from spec.md §6.1.
func (s *StateStorage) Save(registry *cache.Registry, changes model.CacheChanges, score model.ChainScore, height model.Height) error {
	dir := s.tmpDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("catapult: create state.tmp: %w", err)
	}
	if err := s.writeSupplemental(dir, score, height); err != nil {
		return err
	}
	for _, entry := range changes.Entries {
		storage, ok := registry.Lookup(entry.CacheID)
		if !ok {
			return fmt.Errorf("%w: no registered cache storage for id %d", errs.ErrInvariantViolation, entry.CacheID)
		}
		if err := s.writeSubCache(dir, entry.CacheID, storage, entry.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *StateStorage) writeSupplemental(dir string, score model.ChainScore, height model.Height) error {
	var buf bytes.Buffer
	if err := wire.WriteUint64(&buf, score.High); err != nil {
		return err
	}
	if err := wire.WriteUint64(&buf, score.Low); err != nil {
		return err
	}
	if err := wire.WriteUint64(&buf, uint64(height)); err != nil {
		return err
	}
	return writeFileFsync(filepath.Join(dir, supplementalFilename), buf.Bytes())
}

func (s *StateStorage) writeSubCache(dir string, id uint32, storage cache.ChangesStorage, payload []byte) error {
	var record bytes.Buffer
	if err := storage.Save(&record, payload); err != nil {
		return fmt.Errorf("catapult: serialise sub-cache %d: %w", id, err)
	}
	compressed := snappy.Encode(nil, record.Bytes())
	name := fmt.Sprintf("%d.dat", id)
	if err := writeFileFsync(filepath.Join(dir, name), compressed); err != nil {
		return err
	}
	digest := xxh3.Hash(compressed)
	var digestBuf [8]byte
	binary.LittleEndian.PutUint64(digestBuf[:], digest)
	return writeFileFsync(filepath.Join(dir, name+".xxh3"), digestBuf[:])
}

func writeFileFsync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("catapult: open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("catapult: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("catapult: fsync %s: %w", path, err)
	}
	return f.Close()
}

// MoveTo renames <root>/state.tmp to dest, which must not already exist
// (spec.md §4.4). A crash between Save and MoveTo leaves state.tmp behind
// for the recovery orchestrator (spec.md §4.8) to resolve.
func (s *StateStorage) MoveTo(dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("%w: move_to destination %s already exists", errs.ErrInvariantViolation, dest)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("catapult: stat %s: %w", dest, err)
	}
	if err := os.Rename(s.tmpDir(), dest); err != nil {
		return fmt.Errorf("catapult: move state.tmp to %s: %w", dest, err)
	}
	return nil
}

// PromoteIfPending moves state.tmp to dest like MoveTo, but is safe to call
// when the promotion may have already happened (spec.md §4.8 roll-forward):
// if state.tmp is absent it does nothing, since an atomic rename cannot
// leave both the source missing and the destination unpopulated. Used by
// the recovery orchestrator, which cannot otherwise tell whether a crash
// landed before or after this rename.
func (s *StateStorage) PromoteIfPending(dest string) error {
	return PromoteDirIfPending(s.tmpDir(), dest)
}

// PromoteDirIfPending renames tmp to dest unless tmp is already gone, in
// which case it assumes a prior run already completed the rename. Both
// state.tmp->state and importance/wip->importance promotions during
// recovery roll-forward (spec.md §4.8) share this idempotent shape.
func PromoteDirIfPending(tmp, dest string) error {
	if _, err := os.Stat(tmp); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("catapult: stat %s: %w", tmp, err)
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("%w: both %s and %s present", errs.ErrCorruption, tmp, dest)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("catapult: stat %s: %w", dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("catapult: promote %s to %s: %w", tmp, dest, err)
	}
	return nil
}

// Purge removes state.tmp entirely without promoting it, used when
// recovery finds commit_step.dat absent or at All_Updated (spec.md §4.8:
// "purge state.tmp/... Node had shut down cleanly").
func (s *StateStorage) Purge() error {
	if err := os.RemoveAll(s.tmpDir()); err != nil {
		return fmt.Errorf("catapult: purge state.tmp: %w", err)
	}
	return nil
}

// VerifySidecars checks that every snappy-compressed sub-cache file in dir
// has a matching, digest-correct .xxh3 sidecar (SPEC_FULL.md §3, §8 item
// 7). A missing directory is not an error: there may simply be nothing to
// verify yet. Called by the recovery orchestrator before promoting
// state.tmp to state.
func VerifySidecars(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("catapult: read %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == supplementalFilename || strings.HasSuffix(name, ".xxh3") {
			continue
		}
		if !strings.HasSuffix(name, ".dat") {
			continue
		}
		if err := verifySidecar(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func verifySidecar(dataPath string) error {
	compressed, err := os.ReadFile(dataPath)
	if err != nil {
		return fmt.Errorf("catapult: read %s: %w", dataPath, err)
	}
	sidecarPath := dataPath + ".xxh3"
	sidecar, err := os.ReadFile(sidecarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: missing sidecar digest for %s", errs.ErrCorruption, dataPath)
		}
		return fmt.Errorf("catapult: read %s: %w", sidecarPath, err)
	}
	if len(sidecar) != 8 {
		return fmt.Errorf("%w: sidecar %s has length %d, want 8", errs.ErrCorruption, sidecarPath, len(sidecar))
	}
	want := binary.LittleEndian.Uint64(sidecar)
	if got := xxh3.Hash(compressed); got != want {
		return fmt.Errorf("%w: sidecar digest mismatch for %s", errs.ErrCorruption, dataPath)
	}
	return nil
}

// LoadSubCache decompresses and decodes the stored record for cache id from
// dir, the inverse of writeSubCache. Its only caller in this module is the
// storage tests exercising the round-trip law.
func LoadSubCache(dir string, id uint32, storage cache.ChangesStorage) ([]byte, error) {
	name := fmt.Sprintf("%d.dat", id)
	compressed, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("catapult: read sub-cache %d: %w", id, err)
	}
	record, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: sub-cache %d snappy decode: %v", errs.ErrCorruption, id, err)
	}
	return storage.Load(bytes.NewReader(record))
}
