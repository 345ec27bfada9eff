// Package statechange implements the streaming state-change reader
// (component G, spec.md §4.7): a parser used both by the broker during
// normal operation and by the recovery orchestrator during replay. It
// reuses the wire package's framing and the same cache-storage registry
// the write side (subscribers.FileStateChangeSubscriber) was constructed
// with, so a message produced by one is consumable by the other by
// construction. Grounded on
// original_source/client/catapult/src/catapult/subscribers/StateChangeReader.h;
// no io/BlockStatementSerializer.h header was retrieved into the example
// pack.
package statechange

import (
	"fmt"
	"io"

	"github.com/ledgerwatch/catapult/cache"
	"github.com/ledgerwatch/catapult/errs"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/wire"
)

// Subscriber is the pair of callbacks a Read dispatches to. It is
// satisfied by subscribers.StateChangeSubscriber without this package
// importing subscribers, avoiding an import cycle since subscribers
// constructs registries of the same shape this package consumes.
type Subscriber interface {
	NotifyScoreChange(score model.ChainScore) error
	NotifyStateChange(info model.StateChangeInfo) error
}

// Reader parses state-change messages against a fixed cache-storage
// registry (spec.md §4.7: "the reader looks up the same registry").
type Reader struct {
	registry *cache.Registry
}

// NewReader binds a Reader to registry, the same one passed to
// subscribers.NewFileStateChangeSubscriber when the messages were written.
func NewReader(registry *cache.Registry) *Reader {
	return &Reader{registry: registry}
}

// Read parses exactly one state-change message from src and dispatches it
// to sub. It holds no state across calls, so distinct messages — even
// from distinct streams — can be read concurrently by distinct Reader
// values sharing the same registry, or serially by reusing r.
func (r *Reader) Read(src io.Reader, sub Subscriber) error {
	var opBuf [1]byte
	if _, err := io.ReadFull(src, opBuf[:]); err != nil {
		return fmt.Errorf("catapult: read state-change discriminant: %w", err)
	}
	switch opBuf[0] {
	case wire.OpScoreChange:
		hi, err := wire.ReadUint64(src)
		if err != nil {
			return fmt.Errorf("catapult: read score high word: %w", err)
		}
		lo, err := wire.ReadUint64(src)
		if err != nil {
			return fmt.Errorf("catapult: read score low word: %w", err)
		}
		return sub.NotifyScoreChange(model.ChainScore{High: hi, Low: lo})
	case wire.OpStateChange:
		height, err := wire.ReadUint64(src)
		if err != nil {
			return fmt.Errorf("catapult: read state-change height: %w", err)
		}
		var entries []model.CacheChangeEntry
		for {
			id, err := wire.ReadUint32(src)
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("catapult: read cache id: %w", err)
			}
			storage, ok := r.registry.Lookup(id)
			if !ok {
				return fmt.Errorf("%w: no registered cache storage for id %d", errs.ErrCorruption, id)
			}
			payload, err := storage.Load(src)
			if err != nil {
				return err
			}
			entries = append(entries, model.CacheChangeEntry{CacheID: id, Payload: payload})
		}
		return sub.NotifyStateChange(model.StateChangeInfo{
			Kind:    model.StateChangeKindState,
			Height:  model.Height(height),
			Changes: model.CacheChanges{Entries: entries},
		})
	default:
		return fmt.Errorf("%w: unknown state-change discriminant %d", errs.ErrCorruption, opBuf[0])
	}
}
