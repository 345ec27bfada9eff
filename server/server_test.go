package server

import (
	"testing"
	"time"

	"github.com/ledgerwatch/catapult/cache"
	"github.com/ledgerwatch/catapult/config"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/storage"
)

type fakeBlockChangeSubscriber struct {
	blocks           []model.BlockElement
	dropAfterHeights []model.Height
}

func (f *fakeBlockChangeSubscriber) NotifyBlock(el model.BlockElement) error {
	f.blocks = append(f.blocks, el)
	return nil
}
func (f *fakeBlockChangeSubscriber) NotifyDropBlocksAfter(h model.Height) error {
	f.dropAfterHeights = append(f.dropAfterHeights, h)
	return nil
}

type fakeStateChangeSubscriber struct {
	scores []model.ChainScore
	states []model.StateChangeInfo
}

func (f *fakeStateChangeSubscriber) NotifyScoreChange(score model.ChainScore) error {
	f.scores = append(f.scores, score)
	return nil
}
func (f *fakeStateChangeSubscriber) NotifyStateChange(info model.StateChangeInfo) error {
	f.states = append(f.states, info)
	return nil
}

type fakeFlushSubscriber struct{ flushes int }

func (f *fakeFlushSubscriber) NotifyAdds([]model.TransactionInfo) error    { return nil }
func (f *fakeFlushSubscriber) NotifyRemoves([]model.TransactionInfo) error { return nil }
func (f *fakeFlushSubscriber) Flush() error                                { f.flushes++; return nil }

type fakePTFlushSubscriber struct{ flushes int }

func (f *fakePTFlushSubscriber) NotifyAddPartials([]model.TransactionInfo) error    { return nil }
func (f *fakePTFlushSubscriber) NotifyAddCosignature(model.Hash256, model.Cosignature) error {
	return nil
}
func (f *fakePTFlushSubscriber) NotifyRemovePartials([]model.TransactionInfo) error { return nil }
func (f *fakePTFlushSubscriber) Flush() error                                       { f.flushes++; return nil }

func newTestNode(t *testing.T) (*Node, *fakeBlockChangeSubscriber, *fakeStateChangeSubscriber) {
	t.Helper()
	dataDir, err := config.Prepare(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	canonical := storage.NewBlockStorage(dataDir.RootDir().Str())
	staged := storage.NewBlockStorage(dataDir.SpoolDir("block_sync").Str())
	state := storage.NewStateStorage(dataDir.RootDir().Str())
	registry := cache.NewRegistry(cache.NewLengthPrefixedStorage(1))

	blockSub := &fakeBlockChangeSubscriber{}
	stateSub := &fakeStateChangeSubscriber{}
	n := New(dataDir, canonical, staged, state, registry, Subscribers{BlockChange: blockSub, StateChange: stateSub}, &fakeFlushSubscriber{}, &fakePTFlushSubscriber{})
	return n, blockSub, stateSub
}

func TestApplyBlockPromotesAndPublishesInOrder(t *testing.T) {
	n, blockSub, stateSub := newTestNode(t)

	el := model.BlockElement{Block: model.Block{Height: 1, Body: []byte("block-1")}, Hash: model.Hash256{1}}
	changes := model.CacheChanges{Entries: []model.CacheChangeEntry{{CacheID: 1, Payload: []byte("delta")}}}
	score := model.ChainScore{High: 0, Low: 10}

	if err := n.ApplyBlock(Update{Element: el, Changes: changes, Score: score}); err != nil {
		t.Fatal(err)
	}

	height, err := n.CanonicalBlocks.ChainHeight()
	if err != nil {
		t.Fatal(err)
	}
	if height != 1 {
		t.Fatalf("canonical height = %d, want 1", height)
	}
	if len(blockSub.blocks) != 1 || !bytesEqual(blockSub.blocks[0].Block.Body, el.Block.Body) {
		t.Fatalf("blockSub.blocks = %+v, want one entry matching %+v", blockSub.blocks, el)
	}
	if len(stateSub.scores) != 1 || stateSub.scores[0] != score {
		t.Fatalf("stateSub.scores = %v, want [%v]", stateSub.scores, score)
	}
	if len(stateSub.states) != 1 || stateSub.states[0].Height != el.Block.Height {
		t.Fatalf("stateSub.states = %+v, want height %d", stateSub.states, el.Block.Height)
	}

	if _, present, err := n.Marker.Read(); err != nil || present {
		t.Fatalf("expected commit_step.dat deleted after ApplyBlock, present=%v err=%v", present, err)
	}
}

func TestDropBlocksAfterPublishesAndTruncates(t *testing.T) {
	n, blockSub, _ := newTestNode(t)

	for h := model.Height(1); h <= 3; h++ {
		el := model.BlockElement{Block: model.Block{Height: h, Body: []byte{byte(h)}}, Hash: model.Hash256{byte(h)}}
		if err := n.ApplyBlock(Update{Element: el, Score: model.ChainScore{}}); err != nil {
			t.Fatal(err)
		}
	}

	if err := n.DropBlocksAfter(1); err != nil {
		t.Fatal(err)
	}
	height, err := n.CanonicalBlocks.ChainHeight()
	if err != nil {
		t.Fatal(err)
	}
	if height != 1 {
		t.Fatalf("canonical height = %d, want 1", height)
	}
	if len(blockSub.dropAfterHeights) != 1 || blockSub.dropAfterHeights[0] != 1 {
		t.Fatalf("dropAfterHeights = %v, want [1]", blockSub.dropAfterHeights)
	}
}

func TestRunPeriodicFlushStopsOnQuit(t *testing.T) {
	n, _, _ := newTestNode(t)
	utSub := n.UTChange.(*fakeFlushSubscriber)

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		n.RunPeriodicFlush(5*time.Millisecond, quit)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	close(quit)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodicFlush did not stop after quit was closed")
	}
	if utSub.flushes == 0 {
		t.Fatal("expected at least one flush before quit")
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
