package statechange

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ledgerwatch/catapult/cache"
	"github.com/ledgerwatch/catapult/errs"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/wire"
)

type recordingSubscriber struct {
	scores []model.ChainScore
	states []model.StateChangeInfo
}

func (s *recordingSubscriber) NotifyScoreChange(score model.ChainScore) error {
	s.scores = append(s.scores, score)
	return nil
}

func (s *recordingSubscriber) NotifyStateChange(info model.StateChangeInfo) error {
	s.states = append(s.states, info)
	return nil
}

func TestReaderDispatchesScoreChange(t *testing.T) {
	registry := cache.NewRegistry()
	var buf bytes.Buffer
	score := model.ChainScore{High: 7, Low: 9}
	if err := wire.EncodeScoreChange(&buf, score); err != nil {
		t.Fatal(err)
	}
	sub := &recordingSubscriber{}
	if err := NewReader(registry).Read(&buf, sub); err != nil {
		t.Fatal(err)
	}
	if len(sub.scores) != 1 || sub.scores[0] != score {
		t.Fatalf("scores = %v, want [%v]", sub.scores, score)
	}
}

func TestReaderDispatchesStateChangeUsingSameRegistryAsWriter(t *testing.T) {
	registry := cache.NewRegistry(cache.NewLengthPrefixedStorage(3))
	var buf bytes.Buffer
	changes := model.CacheChanges{Entries: []model.CacheChangeEntry{{CacheID: 3, Payload: []byte("delta")}}}
	if err := wire.EncodeStateChange(&buf, registry, 42, changes); err != nil {
		t.Fatal(err)
	}
	sub := &recordingSubscriber{}
	if err := NewReader(registry).Read(&buf, sub); err != nil {
		t.Fatal(err)
	}
	if len(sub.states) != 1 {
		t.Fatalf("states = %v, want 1 entry", sub.states)
	}
	got := sub.states[0]
	if got.Height != 42 || len(got.Changes.Entries) != 1 || !bytes.Equal(got.Changes.Entries[0].Payload, []byte("delta")) {
		t.Fatalf("got %+v, want height 42 payload \"delta\"", got)
	}
}

func TestReaderUnknownDiscriminantIsCorruption(t *testing.T) {
	registry := cache.NewRegistry()
	buf := bytes.NewReader([]byte{9})
	err := NewReader(registry).Read(buf, &recordingSubscriber{})
	if !errors.Is(err, errs.ErrCorruption) {
		t.Fatalf("err = %v, want ErrCorruption", err)
	}
}

func TestReaderIsReentrantAcrossDistinctStreams(t *testing.T) {
	registry := cache.NewRegistry()
	r := NewReader(registry)

	var bufA, bufB bytes.Buffer
	scoreA := model.ChainScore{High: 1, Low: 2}
	scoreB := model.ChainScore{High: 3, Low: 4}
	if err := wire.EncodeScoreChange(&bufA, scoreA); err != nil {
		t.Fatal(err)
	}
	if err := wire.EncodeScoreChange(&bufB, scoreB); err != nil {
		t.Fatal(err)
	}

	subA, subB := &recordingSubscriber{}, &recordingSubscriber{}
	if err := r.Read(&bufA, subA); err != nil {
		t.Fatal(err)
	}
	if err := r.Read(&bufB, subB); err != nil {
		t.Fatal(err)
	}
	if subA.scores[0] != scoreA || subB.scores[0] != scoreB {
		t.Fatalf("got %v / %v, want %v / %v", subA.scores, subB.scores, scoreA, scoreB)
	}
}
