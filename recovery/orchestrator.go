// Package recovery implements the boot-time recovery orchestrator
// (component H, spec.md §4.8): repairing the commit-step transaction left
// behind by an unclean shutdown, reconciling spool-queue index files, and
// replaying unread messages into freshly-booted subscribers before control
// returns to the node or broker. Grounded on
// original_source/client/catapult/src/catapult/local/recovery/RepairState.cpp;
// no local/BootstrapperState.cpp was retrieved into the example pack (the
// pack's closest file is extensions/ProcessBootstrapper.h, a distinct
// bootstrapper-construction concern, not a recovery state machine).
package recovery

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring"
	lru "github.com/hashicorp/golang-lru"
	"github.com/ledgerwatch/catapult/cache"
	"github.com/ledgerwatch/catapult/commitstep"
	"github.com/ledgerwatch/catapult/config"
	catio "github.com/ledgerwatch/catapult/io"
	"github.com/ledgerwatch/catapult/metrics"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/statechange"
	"github.com/ledgerwatch/catapult/storage"
	"github.com/ledgerwatch/catapult/subscribers"
	"github.com/ledgerwatch/catapult/wire"
)

// messageFilename matches a published message file's 16-hex-digit name,
// distinguishing it from index*.dat and .lock files sharing a queue
// directory.
var messageFilename = regexp.MustCompile(`^[0-9A-F]{16}\.dat$`)

// defaultDedupCacheSize bounds the within-run replay dedup cache
// (SPEC_FULL.md §4.10); it only needs to cover one recovery pass's worth
// of pending messages, never the whole history.
const defaultDedupCacheSize = 4096

// Subscribers bundles the six subscriber families recovery replays
// messages into. Each field accepts any implementation satisfying the
// family's interface, not just the file-storage ones in package
// subscribers, since recovery only calls notify methods.
type Subscribers struct {
	BlockChange       subscribers.BlockChangeSubscriber
	UTChange          subscribers.UTChangeSubscriber
	PTChange          subscribers.PTChangeSubscriber
	Finalization      subscribers.FinalizationSubscriber
	TransactionStatus subscribers.TransactionStatusSubscriber
	StateChange       statechange.Subscriber
}

// Orchestrator runs the spec.md §4.8 algorithm once at process start.
type Orchestrator struct {
	DataDir          config.DataDirectory
	Marker           *commitstep.Marker
	CanonicalBlocks  *storage.BlockStorage
	StagedBlocks     *storage.BlockStorage
	State            *storage.StateStorage
	Registry         *cache.Registry
	Subs             Subscribers
	StateChangeReader *statechange.Reader

	dedup *lru.Cache
}

// New builds an Orchestrator over dataDir's canonical layout. canonical and
// staged must be BlockStorage instances rooted at dataDir's root and
// dataDir's spool/block_sync respectively.
func New(dataDir config.DataDirectory, canonical, staged *storage.BlockStorage, state *storage.StateStorage, registry *cache.Registry, subs Subscribers) (*Orchestrator, error) {
	dedup, err := lru.New(defaultDedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("catapult: create recovery dedup cache: %w", err)
	}
	return &Orchestrator{
		DataDir:           dataDir,
		Marker:            commitstep.NewMarker(dataDir),
		CanonicalBlocks:   canonical,
		StagedBlocks:      staged,
		State:             state,
		Registry:          registry,
		Subs:              subs,
		StateChangeReader: statechange.NewReader(registry),
		dedup:             dedup,
	}, nil
}

// Run executes the full algorithm: repair the commit step, reconcile spool
// queues, replay subscribers, and delete commit_step.dat. It is
// deterministic over the on-disk state alone (spec.md §4.8: "no clock, no
// network").
func (o *Orchestrator) Run() error {
	start := time.Now()
	defer func() { metrics.RecoveryDurationSeconds.Observe(time.Since(start).Seconds()) }()

	if err := o.repairCommitStep(); err != nil {
		return fmt.Errorf("catapult: repair commit step: %w", err)
	}
	if err := o.reconcileQueues(); err != nil {
		return fmt.Errorf("catapult: reconcile spool queues: %w", err)
	}
	if err := o.replaySubscribers(); err != nil {
		return fmt.Errorf("catapult: replay subscribers: %w", err)
	}
	return o.Marker.Delete()
}

// repairCommitStep implements spec.md §4.8 step 1.
func (o *Orchestrator) repairCommitStep() error {
	step, present, err := o.Marker.Read()
	if err != nil {
		return err
	}
	if !present || step == commitstep.AllUpdated {
		if err := o.State.Purge(); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(o.DataDir.Dir("importance").Str(), "wip")); err != nil {
			return fmt.Errorf("catapult: purge importance/wip: %w", err)
		}
		if err := os.RemoveAll(o.DataDir.SpoolDir("block_sync").Str()); err != nil {
			return fmt.Errorf("catapult: purge staged blocks: %w", err)
		}
		return o.Marker.Delete()
	}

	if step == commitstep.BlocksWritten {
		if err := o.promoteStagedBlocks(); err != nil {
			return err
		}
		if err := storage.VerifySidecars(o.State.TmpDir()); err != nil {
			return err
		}
		if err := o.State.PromoteIfPending(o.DataDir.Dir("state").Str()); err != nil {
			return err
		}
		if err := o.Marker.Write(commitstep.StateWritten); err != nil {
			return err
		}
		step = commitstep.StateWritten
	}

	if step == commitstep.StateWritten {
		if err := storage.VerifySidecars(o.State.TmpDir()); err != nil {
			return err
		}
		if err := o.State.PromoteIfPending(o.DataDir.Dir("state").Str()); err != nil {
			return err
		}
		if err := storage.PromoteDirIfPending(
			filepath.Join(o.DataDir.Dir("importance").Str(), "wip"),
			o.DataDir.Dir("importance").Str(),
		); err != nil {
			return err
		}
		return o.Marker.Write(commitstep.AllUpdated)
	}
	return nil
}

// stagedHeights walks the staged block storage's shard tree and returns the
// set of heights present, enumerated via a roaring bitmap so promotion
// order is deterministic and gaps are visible before any file is moved
// (SPEC_FULL.md §4.8).
func stagedHeights(root string) (*roaring.Bitmap, error) {
	bitmap := roaring.New()
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return bitmap, nil
		}
		return nil, fmt.Errorf("catapult: read staged block root %s: %w", root, err)
	}
	for _, shardEntry := range entries {
		if !shardEntry.IsDir() {
			continue
		}
		shard, err := strconv.ParseUint(shardEntry.Name(), 10, 32)
		if err != nil {
			continue
		}
		shardDir := filepath.Join(root, shardEntry.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			return nil, fmt.Errorf("catapult: read staged shard %s: %w", shardDir, err)
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || filepath.Ext(name) != ".dat" {
				continue
			}
			seq, err := strconv.ParseUint(name[:len(name)-len(".dat")], 10, 32)
			if err != nil {
				continue
			}
			bitmap.Add(uint32(shard*10000 + seq))
		}
	}
	return bitmap, nil
}

// promoteStagedBlocks finishes block promotion (spec.md §4.6 step 4):
// contiguous staged heights starting at canonical height + 1 are moved
// into the canonical store in order; a gap stops promotion, since a
// non-contiguous staged height cannot yet be canonical.
func (o *Orchestrator) promoteStagedBlocks() error {
	height, err := o.CanonicalBlocks.ChainHeight()
	if err != nil {
		return err
	}
	bitmap, err := stagedHeights(o.DataDir.SpoolDir("block_sync").Str())
	if err != nil {
		return err
	}
	for next := uint32(height) + 1; bitmap.Contains(next); next++ {
		if err := o.CanonicalBlocks.PromoteStaged(o.StagedBlocks, model.Height(next)); err != nil {
			return fmt.Errorf("catapult: promote staged block %d: %w", next, err)
		}
	}
	return nil
}

// recoveryQueues lists every spool queue recovery must reconcile and
// replay, in the publish order spec.md §4.6 step 7 and §5 fix for one
// commit transaction.
var recoveryQueues = []string{
	subscribers.QueueBlockChange,
	subscribers.QueueUTChange,
	subscribers.QueuePTChange,
	subscribers.QueueFinalization,
	subscribers.QueueTransactionStatus,
	subscribers.QueueStateChange,
}

// reconcileQueues implements spec.md §4.8 step 2 for every queue: delete
// spurious message files at or beyond the writer index, and — for
// state_change, the only queue carrying a secondary writer index per
// spec.md §6.2 — reconcile index_server.dat against index.dat.
func (o *Orchestrator) reconcileQueues() error {
	for _, queue := range recoveryQueues {
		dir := o.DataDir.SpoolDir(queue).Str()
		writerIdx := catio.NewIndexFile(filepath.Join(dir, "index.dat"))
		writerValue, err := writerIdx.GetOrZero()
		if err != nil {
			return err
		}
		if err := deleteSpuriousMessages(dir, writerValue); err != nil {
			return err
		}
		if queue == subscribers.QueueStateChange {
			if err := reconcileSecondaryIndex(dir, writerValue); err != nil {
				return err
			}
		}
	}
	return nil
}

func deleteSpuriousMessages(dir string, writerValue uint64) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("catapult: read queue directory %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !messageFilename.MatchString(name) {
			continue
		}
		id, err := strconv.ParseUint(name[:16], 16, 64)
		if err != nil {
			continue
		}
		if id >= writerValue {
			if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("catapult: remove spurious message file %s: %w", name, err)
			}
		}
	}
	return nil
}

func reconcileSecondaryIndex(dir string, writerValue uint64) error {
	secondary := catio.NewIndexFile(filepath.Join(dir, "index_server.dat"))
	if !secondary.Exists() {
		return secondary.Set(writerValue)
	}
	secondaryValue, err := secondary.Get()
	if err != nil {
		return err
	}
	if secondaryValue != writerValue {
		return secondary.Set(writerValue)
	}
	return nil
}

// readerIndexFilename picks index_broker_r.dat when present, else
// index_server_r.dat, matching the resolved Open Question: recovery
// prefers the broker reader index when present.
func readerIndexFilename(dir string) string {
	if _, err := os.Stat(filepath.Join(dir, "index_broker_r.dat")); err == nil {
		return "index_broker_r.dat"
	}
	return "index_server_r.dat"
}

// replaySubscribers implements spec.md §4.8 step 3: for each queue, feed
// every unread message in [reader_index, index.dat) back to the
// freshly-booted subscriber, advancing the reader index as it goes.
func (o *Orchestrator) replaySubscribers() error {
	for _, queue := range recoveryQueues {
		dir := o.DataDir.SpoolDir(queue).Str()
		reader, err := catio.NewFileQueueReaderNamed(dir, readerIndexFilename(dir), "index.dat")
		if err != nil {
			return err
		}
		for {
			id, err := reader.ReaderIndexValue()
			if err != nil {
				return err
			}
			dedupKey := queue + ":" + strconv.FormatUint(id, 10)
			ok, err := reader.TryReadNext(func(msg []byte) error {
				if _, found := o.dedup.Get(dedupKey); found {
					return nil
				}
				if err := o.dispatch(queue, msg); err != nil {
					return err
				}
				o.dedup.Add(dedupKey, struct{}{})
				return nil
			})
			if err != nil {
				return fmt.Errorf("catapult: replay queue %s message %d: %w", queue, id, err)
			}
			if !ok {
				break
			}
		}
	}
	return nil
}

// dispatch decodes one message from queue and calls the matching
// subscriber notify method, the same decode path the broker uses in
// normal operation.
func (o *Orchestrator) dispatch(queue string, msg []byte) error {
	r := bytes.NewReader(msg)
	switch queue {
	case subscribers.QueueBlockChange:
		decoded, err := wire.DecodeBlockChangeMessage(r)
		if err != nil {
			return err
		}
		if decoded.Op == wire.OpNotifyBlock {
			return o.Subs.BlockChange.NotifyBlock(decoded.Element)
		}
		return o.Subs.BlockChange.NotifyDropBlocksAfter(decoded.DropAfterHeight)
	case subscribers.QueueUTChange:
		// A message file can hold more than one op-record: the subscriber
		// appends on every NotifyAdds/NotifyRemoves call and only publishes
		// on Flush, so decode to EOF rather than stopping after the first.
		for {
			decoded, err := wire.DecodeUTChangeMessage(r)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			if decoded.Op == wire.OpNotifyAdds {
				if err := o.Subs.UTChange.NotifyAdds(decoded.Infos); err != nil {
					return err
				}
			} else {
				if err := o.Subs.UTChange.NotifyRemoves(decoded.Infos); err != nil {
					return err
				}
			}
		}
		return o.Subs.UTChange.Flush()
	case subscribers.QueuePTChange:
		// Same multi-record-per-file shape as the UT-change queue above.
		for {
			decoded, err := wire.DecodePTChangeMessage(r)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			switch decoded.Op {
			case wire.OpNotifyAddPartials:
				if err := o.Subs.PTChange.NotifyAddPartials(decoded.Infos); err != nil {
					return err
				}
			case wire.OpNotifyAddCosignature:
				if err := o.Subs.PTChange.NotifyAddCosignature(decoded.ParentHash, decoded.Cosignature); err != nil {
					return err
				}
			default:
				if err := o.Subs.PTChange.NotifyRemovePartials(decoded.Infos); err != nil {
					return err
				}
			}
		}
		return o.Subs.PTChange.Flush()
	case subscribers.QueueFinalization:
		fb, err := wire.DecodeFinalizedBlock(r)
		if err != nil {
			return err
		}
		return o.Subs.Finalization.NotifyFinalizedBlock(fb)
	case subscribers.QueueTransactionStatus:
		status, err := wire.DecodeTransactionStatus(r)
		if err != nil {
			return err
		}
		return o.Subs.TransactionStatus.NotifyStatus(status)
	case subscribers.QueueStateChange:
		return o.StateChangeReader.Read(r, o.Subs.StateChange)
	default:
		return fmt.Errorf("catapult: recovery: unknown queue %q", queue)
	}
}
