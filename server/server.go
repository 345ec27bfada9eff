// Package server implements the normal-operation node driver (component
// I, spec.md §4.9): applies blocks through the commit-step protocol
// (component F), periodically flushes the batching UT/PT subscribers, and
// leaves every commitment spec.md §4.9 names to its caller unenforced by
// type alone — ApplyBlock is the single entry point that upholds them.
// Grounded on original_source/client/catapult/src/catapult/process/server/main.cpp
// (the server binary only wires LocalNode and a bootstrapper; the actual
// block-application loop lives in local/server/LocalNode.cpp, whose
// CommitOperationStep writes this package's ApplyBlock mirrors) and
// turbo-geth's eth/stagedsync ticker-driven loop shape
// (eth/stagedsync/stage_log_index.go's promoteLogIndex).
package server

import (
	"fmt"
	"time"

	"github.com/ledgerwatch/catapult/cache"
	"github.com/ledgerwatch/catapult/commitstep"
	"github.com/ledgerwatch/catapult/config"
	"github.com/ledgerwatch/catapult/internal/catlog"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/storage"
	"github.com/ledgerwatch/catapult/subscribers"
)

// Subscribers bundles the subscriber instances ApplyBlock publishes
// through at step 7 of spec.md §4.6, in the family order §5 requires
// (block-change messages for height h precede state-change messages for
// h in the broker's global view).
type Subscribers struct {
	BlockChange subscribers.BlockChangeSubscriber
	StateChange subscribers.StateChangeSubscriber
}

// Node is the non-recovery driver over one data directory. It starts no
// goroutines of its own; RunPeriodicFlush blocks and is run in a goroutine
// by its caller.
type Node struct {
	DataDir         config.DataDirectory
	Marker          *commitstep.Marker
	CanonicalBlocks *storage.BlockStorage
	StagedBlocks    *storage.BlockStorage
	State           *storage.StateStorage
	Registry        *cache.Registry
	Subs            Subscribers

	UTChange subscribers.UTChangeSubscriber
	PTChange subscribers.PTChangeSubscriber

	log *catlog.Logger
}

// New builds a Node over an already-prepared data directory. Callers must
// run recovery (package recovery) before constructing or using a Node, per
// spec.md §4.8: "runs exactly once at process start, before any network or
// scheduler thread is allowed to run."
func New(dataDir config.DataDirectory, canonical, staged *storage.BlockStorage, state *storage.StateStorage, registry *cache.Registry, subs Subscribers, utChange subscribers.UTChangeSubscriber, ptChange subscribers.PTChangeSubscriber) *Node {
	return &Node{
		DataDir:         dataDir,
		Marker:          commitstep.NewMarker(dataDir),
		CanonicalBlocks: canonical,
		StagedBlocks:    staged,
		State:           state,
		Registry:        registry,
		Subs:            subs,
		UTChange:        utChange,
		PTChange:        ptChange,
		log:             catlog.New("component", "server"),
	}
}

// Update is the result of validating and executing one block: the element
// itself, the cache delta it produced, and the chain score after applying
// it (spec.md §4.9: "produces a CatapultCache delta").
type Update struct {
	Element model.BlockElement
	Changes model.CacheChanges
	Score   model.ChainScore
}

// ApplyBlock runs the full spec.md §4.6 sequence for one block update:
// stage, build state, promote, publish. It follows the nine-step order
// strictly (commitment a of spec.md §4.9) and never calls a subscriber
// notify method before the marker is State_Written (commitment b),
// since PublishMessages runs after PromoteState in the Transaction.
// Callers are responsible for commitment c (single-threaded access to one
// Node); ApplyBlock itself performs no internal locking.
func (n *Node) ApplyBlock(u Update) error {
	tx := &commitstep.Transaction{
		Marker: n.Marker,
		StageBlocks: func() error {
			return n.StagedBlocks.SaveBlock(u.Element, true)
		},
		BuildState: func() error {
			return n.State.Save(n.Registry, u.Changes, u.Score, u.Element.Block.Height)
		},
		PromoteBlocks: func() error {
			return n.CanonicalBlocks.PromoteStaged(n.StagedBlocks, u.Element.Block.Height)
		},
		PromoteState: func() error {
			if err := n.State.PromoteIfPending(n.DataDir.Dir("state").Str()); err != nil {
				return err
			}
			return storage.PromoteDirIfPending(n.DataDir.Dir("importance").File("wip"), n.DataDir.Dir("importance").Str())
		},
		PublishMessages: func() error {
			if err := n.Subs.BlockChange.NotifyBlock(u.Element); err != nil {
				return fmt.Errorf("catapult: publish block-change: %w", err)
			}
			if err := n.Subs.StateChange.NotifyScoreChange(u.Score); err != nil {
				return fmt.Errorf("catapult: publish score-change: %w", err)
			}
			info := model.StateChangeInfo{Kind: model.StateChangeKindState, Height: u.Element.Block.Height, Changes: u.Changes}
			if err := n.Subs.StateChange.NotifyStateChange(info); err != nil {
				return fmt.Errorf("catapult: publish state-change: %w", err)
			}
			return nil
		},
	}
	if err := tx.Run(); err != nil {
		return err
	}
	n.log.Info("applied block", "height", u.Element.Block.Height)
	return nil
}

// DropBlocksAfter publishes a Notify_Drop_Blocks_After message and rolls
// the canonical block store back to h, the inverse operation spec.md §4.4
// names alongside save_block. It is not part of the commit-step
// transaction: reorganisation is a distinct, simpler operation that
// touches only the block store and the block-change queue.
func (n *Node) DropBlocksAfter(h model.Height) error {
	if err := n.CanonicalBlocks.DropBlocksAfter(h); err != nil {
		return err
	}
	return n.Subs.BlockChange.NotifyDropBlocksAfter(h)
}

// RunPeriodicFlush flushes the UT and PT subscribers every interval until
// quit is closed, fulfilling spec.md §4.9's "periodically flushes UT/PT
// subscribers at configured intervals." It blocks and is meant to run in
// its own goroutine.
func (n *Node) RunPeriodicFlush(interval time.Duration, quit <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if err := n.UTChange.Flush(); err != nil {
				n.log.Error("ut-change flush failed", "err", err)
			}
			if err := n.PTChange.Flush(); err != nil {
				n.log.Error("pt-change flush failed", "err", err)
			}
		}
	}
}
