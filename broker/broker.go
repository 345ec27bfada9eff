// Package broker implements the standalone message-consuming process
// described in SPEC_FULL.md §4.11: one ticker-driven polling loop per
// spool queue, each draining pending messages into a freshly-booted
// subscriber and advancing that queue's reader index
// (index_broker_r.dat) independently of every other queue. Grounded on
// original_source/client/catapult/src/catapult/thread/Scheduler.cpp,
// whose Task model reschedules each unit of work on its own timer after
// the previous run completes rather than on a single shared tick.
package broker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ledgerwatch/catapult/cache"
	"github.com/ledgerwatch/catapult/config"
	catio "github.com/ledgerwatch/catapult/io"
	"github.com/ledgerwatch/catapult/internal/catlog"
	"github.com/ledgerwatch/catapult/statechange"
	"github.com/ledgerwatch/catapult/subscribers"
	"github.com/ledgerwatch/catapult/wire"
)

// Subscribers bundles the six subscriber families the broker dispatches
// into, one per spool queue (SPEC_FULL.md §4.11).
type Subscribers struct {
	BlockChange       subscribers.BlockChangeSubscriber
	UTChange          subscribers.UTChangeSubscriber
	PTChange          subscribers.PTChangeSubscriber
	Finalization      subscribers.FinalizationSubscriber
	TransactionStatus subscribers.TransactionStatusSubscriber
	StateChange       statechange.Subscriber
}

// maxMessagesPerTick bounds how many messages one queue drains before
// yielding back to the ticker, so one queue backed up with a long backlog
// cannot starve the others sharing this process (SPEC_FULL.md §4.11).
const maxMessagesPerTick = 256

// Broker polls every spool queue on its own ticker and replays newly
// published messages into the wired Subscribers. It never touches
// commit_step.dat or the block/state stores; recovery (package recovery)
// owns those and must run before a Broker starts reading any queue.
type Broker struct {
	dataDir           config.DataDirectory
	subs              Subscribers
	stateChangeReader *statechange.Reader
	interval          time.Duration
	log               *catlog.Logger
}

// New builds a Broker over dataDir's spool directories. registry decodes
// state_change cache-delta payloads the same way the writer side encoded
// them (component E). interval is the per-queue poll period;
// SPEC_FULL.md §4.11 suggests 50ms as a default, configurable by the
// caller.
func New(dataDir config.DataDirectory, registry *cache.Registry, subs Subscribers, interval time.Duration) *Broker {
	return &Broker{
		dataDir:           dataDir,
		subs:              subs,
		stateChangeReader: statechange.NewReader(registry),
		interval:          interval,
		log:               catlog.New("component", "broker"),
	}
}

// queueSpec pairs a spool queue's directory name with the dispatch
// closure that decodes and delivers one message from it.
type queueSpec struct {
	name     string
	dispatch func(b *Broker, msg []byte) error
}

var queues = []queueSpec{
	{subscribers.QueueBlockChange, (*Broker).dispatchBlockChange},
	{subscribers.QueueUTChange, (*Broker).dispatchUTChange},
	{subscribers.QueuePTChange, (*Broker).dispatchPTChange},
	{subscribers.QueueFinalization, (*Broker).dispatchFinalization},
	{subscribers.QueueTransactionStatus, (*Broker).dispatchTransactionStatus},
	{subscribers.QueueStateChange, (*Broker).dispatchStateChange},
}

// Run starts one goroutine per queue and blocks until quit is closed. Each
// goroutine polls independently: a slow or empty queue never delays
// another queue's next poll (SPEC_FULL.md §4.11).
func (b *Broker) Run(quit <-chan struct{}) {
	done := make(chan struct{}, len(queues))
	for i := range queues {
		q := queues[i]
		go func() {
			b.pollLoop(q, quit)
			done <- struct{}{}
		}()
	}
	for range queues {
		<-done
	}
}

func (b *Broker) pollLoop(q queueSpec, quit <-chan struct{}) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if err := b.drain(q); err != nil {
				b.log.Error("broker drain failed", "queue", q.name, "err", err)
			}
		}
	}
}

// drain replays up to maxMessagesPerTick pending messages from one queue,
// advancing index_broker_r.dat as it goes.
func (b *Broker) drain(q queueSpec) error {
	dir := b.dataDir.SpoolDir(q.name).Str()
	reader, err := catio.NewFileQueueReaderNamed(dir, "index_broker_r.dat", "index.dat")
	if err != nil {
		return err
	}
	for i := 0; i < maxMessagesPerTick; i++ {
		ok, err := reader.TryReadNext(func(msg []byte) error {
			return q.dispatch(b, msg)
		})
		if err != nil {
			return fmt.Errorf("catapult: broker: queue %s: %w", q.name, err)
		}
		if !ok {
			return nil
		}
	}
	return nil
}

func (b *Broker) dispatchBlockChange(msg []byte) error {
	decoded, err := wire.DecodeBlockChangeMessage(bytes.NewReader(msg))
	if err != nil {
		return err
	}
	if decoded.Op == wire.OpNotifyBlock {
		return b.subs.BlockChange.NotifyBlock(decoded.Element)
	}
	return b.subs.BlockChange.NotifyDropBlocksAfter(decoded.DropAfterHeight)
}

// dispatchUTChange decodes every op-record out of msg, not just the first:
// FileUTChangeSubscriber.NotifyAdds/NotifyRemoves can append more than one
// record to the same message file before Flush publishes it, so a single
// decode would silently drop every record after the first.
func (b *Broker) dispatchUTChange(msg []byte) error {
	r := bytes.NewReader(msg)
	for {
		decoded, err := wire.DecodeUTChangeMessage(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if decoded.Op == wire.OpNotifyAdds {
			if err := b.subs.UTChange.NotifyAdds(decoded.Infos); err != nil {
				return err
			}
		} else if err := b.subs.UTChange.NotifyRemoves(decoded.Infos); err != nil {
			return err
		}
	}
	return b.subs.UTChange.Flush()
}

// dispatchPTChange decodes every op-record out of msg for the same reason as
// dispatchUTChange: FilePTChangeSubscriber can batch multiple notify calls
// into one unflushed message file.
func (b *Broker) dispatchPTChange(msg []byte) error {
	r := bytes.NewReader(msg)
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
			if err := b.subs.PTChange.NotifyAddPartials(decoded.Infos); err != nil {
				return err
			}
		case wire.OpNotifyAddCosignature:
			if err := b.subs.PTChange.NotifyAddCosignature(decoded.ParentHash, decoded.Cosignature); err != nil {
				return err
			}
		default:
			if err := b.subs.PTChange.NotifyRemovePartials(decoded.Infos); err != nil {
				return err
			}
		}
	}
	return b.subs.PTChange.Flush()
}

func (b *Broker) dispatchFinalization(msg []byte) error {
	fb, err := wire.DecodeFinalizedBlock(bytes.NewReader(msg))
	if err != nil {
		return err
	}
	return b.subs.Finalization.NotifyFinalizedBlock(fb)
}

func (b *Broker) dispatchTransactionStatus(msg []byte) error {
	status, err := wire.DecodeTransactionStatus(bytes.NewReader(msg))
	if err != nil {
		return err
	}
	return b.subs.TransactionStatus.NotifyStatus(status)
}

func (b *Broker) dispatchStateChange(msg []byte) error {
	return b.stateChangeReader.Read(bytes.NewReader(msg), b.subs.StateChange)
}
