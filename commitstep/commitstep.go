// Package commitstep implements the write-ahead commit protocol (component
// F, spec.md §4.6): a three-valued marker persisted through an IndexFile
// that linearises block application, state materialisation, and spool
// publication so recovery (component H) can tell at boot exactly which
// steps of an in-flight transaction are known complete. Grounded on
// original_source/client/catapult/src/catapult/local/server/LocalNode.cpp
// (consumers::CommitOperationStep, committed via commitStep(...All_Updated))
// and
// original_source/client/catapult/src/catapult/local/recovery/RepairState.cpp
// (marker read/write points during recovery).
package commitstep

import (
	"fmt"

	"github.com/ledgerwatch/catapult/config"
	"github.com/ledgerwatch/catapult/errs"
	catio "github.com/ledgerwatch/catapult/io"
	"github.com/ledgerwatch/catapult/metrics"
)

// Step is one of the three named phases of a commit transaction (spec.md
// §3.5). The zero value is not a valid Step on its own — callers must
// consult Marker.Read's presence flag before trusting a Step value.
type Step uint64

const (
	// BlocksWritten marks that staged blocks and state.tmp are fully
	// written; it is set before staged blocks are promoted, so the
	// canonical block index may not yet have been advanced.
	BlocksWritten Step = 0
	// StateWritten marks that staged blocks have been promoted; it is set
	// before state.tmp/importance-wip are promoted, and subscriber messages
	// for the transaction have not yet been published.
	StateWritten Step = 1
	// AllUpdated marks that every artifact of the transaction, including
	// spool publication, is complete; only commit_step.dat's own deletion
	// remains.
	AllUpdated Step = 2
)

func (s Step) String() string {
	switch s {
	case BlocksWritten:
		return "Blocks_Written"
	case StateWritten:
		return "State_Written"
	case AllUpdated:
		return "All_Updated"
	default:
		return fmt.Sprintf("Step(%d)", uint64(s))
	}
}

const markerFilename = "commit_step.dat"

// Marker is the commit_step.dat IndexFile at the data-directory root.
// Absence means "no commit in progress" (spec.md §3.5).
type Marker struct {
	idx *catio.IndexFile
}

// NewMarker binds a Marker to dataDir's root without touching the
// filesystem.
func NewMarker(dataDir config.DataDirectory) *Marker {
	return &Marker{idx: catio.NewIndexFile(dataDir.RootDir().File(markerFilename))}
}

// Read returns the current step and true if commit_step.dat exists, or
// (0, false, nil) if it is absent. A present value outside {0,1,2} is
// corruption, not a valid later step.
func (m *Marker) Read() (Step, bool, error) {
	if !m.idx.Exists() {
		return 0, false, nil
	}
	v, err := m.idx.Get()
	if err != nil {
		return 0, false, err
	}
	if v > uint64(AllUpdated) {
		return 0, false, fmt.Errorf("%w: commit_step.dat holds out-of-range value %d", errs.ErrCorruption, v)
	}
	return Step(v), true, nil
}

// Write persists step, overwriting any prior value. Callers must never
// call Write with a step less than the one last read (spec.md §4.6: the
// marker never moves backwards); this method does not itself enforce that
// since a fresh transaction legitimately starts by writing BlocksWritten
// over an absent marker.
func (m *Marker) Write(step Step) error {
	if err := m.idx.Set(uint64(step)); err != nil {
		return err
	}
	metrics.CommitStep.Set(float64(step))
	return nil
}

// Delete removes commit_step.dat, the final step of a clean transaction
// (spec.md §4.6 step 9) and the final step of recovery (spec.md §4.8).
// The gauge is set to -1 to distinguish "no transaction in progress" from
// a valid step value of 0 (BlocksWritten).
func (m *Marker) Delete() error {
	if err := m.idx.Delete(); err != nil {
		return err
	}
	metrics.CommitStep.Set(-1)
	return nil
}

// Transaction sequences one run of the nine-step protocol in spec.md §4.6
// over caller-supplied phase functions, writing the marker at the three
// points the spec fixes. It does not know how to stage blocks, build
// state, or publish messages — server (component I) and recovery
// (component H) supply those as closures over BlockStorage, StateStorage,
// and the subscriber fanout.
type Transaction struct {
	Marker *Marker

	// StageBlocks writes staged block files under spool/block_sync/
	// (step 1). No marker write has happened yet when this runs.
	StageBlocks func() error
	// BuildState writes the new state.tmp/ tree (step 2).
	BuildState func() error
	// PromoteBlocks moves staged block files into their canonical shard
	// and advances the canonical block index (step 4). Runs after the
	// marker is BlocksWritten.
	PromoteBlocks func() error
	// PromoteState moves state.tmp -> state and importance/wip ->
	// importance (step 6). Runs after the marker is StateWritten.
	PromoteState func() error
	// PublishMessages writes into every affected spool queue (step 7).
	// Runs before the marker is set to AllUpdated.
	PublishMessages func() error
}

// Run executes the nine steps in order, returning the first error
// encountered. On error the marker is left at whatever step was last
// successfully written; recovery resumes from there on next boot. Run
// never skips a marker write to save time — each is cheap (one IndexFile
// Set) and is the only thing that makes the surrounding work resumable.
func (t *Transaction) Run() error {
	if err := t.StageBlocks(); err != nil {
		return fmt.Errorf("catapult: stage blocks: %w", err)
	}
	if err := t.BuildState(); err != nil {
		return fmt.Errorf("catapult: build state: %w", err)
	}
	if err := t.Marker.Write(BlocksWritten); err != nil {
		return err
	}
	if err := t.PromoteBlocks(); err != nil {
		return fmt.Errorf("catapult: promote blocks: %w", err)
	}
	if err := t.Marker.Write(StateWritten); err != nil {
		return err
	}
	if err := t.PromoteState(); err != nil {
		return fmt.Errorf("catapult: promote state: %w", err)
	}
	if err := t.PublishMessages(); err != nil {
		return fmt.Errorf("catapult: publish messages: %w", err)
	}
	if err := t.Marker.Write(AllUpdated); err != nil {
		return err
	}
	return t.Marker.Delete()
}
