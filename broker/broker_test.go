package broker

import (
	"testing"
	"time"

	"github.com/ledgerwatch/catapult/cache"
	"github.com/ledgerwatch/catapult/config"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/subscribers"
)

type fakeBlockChangeSubscriber struct {
	blocks []model.BlockElement
}

func (f *fakeBlockChangeSubscriber) NotifyBlock(el model.BlockElement) error {
	f.blocks = append(f.blocks, el)
	return nil
}
func (f *fakeBlockChangeSubscriber) NotifyDropBlocksAfter(model.Height) error { return nil }

type fakeStateChangeSubscriber struct{}

func (fakeStateChangeSubscriber) NotifyScoreChange(model.ChainScore) error   { return nil }
func (fakeStateChangeSubscriber) NotifyStateChange(model.StateChangeInfo) error { return nil }

type noopFlush struct{}

func (noopFlush) NotifyAdds([]model.TransactionInfo) error    { return nil }
func (noopFlush) NotifyRemoves([]model.TransactionInfo) error { return nil }
func (noopFlush) Flush() error                                { return nil }

type noopPTFlush struct{}

func (noopPTFlush) NotifyAddPartials([]model.TransactionInfo) error           { return nil }
func (noopPTFlush) NotifyAddCosignature(model.Hash256, model.Cosignature) error { return nil }
func (noopPTFlush) NotifyRemovePartials([]model.TransactionInfo) error        { return nil }
func (noopPTFlush) Flush() error                                              { return nil }

type noopFinalization struct{}

func (noopFinalization) NotifyFinalizedBlock(model.FinalizedBlock) error { return nil }

type noopTransactionStatus struct{}

func (noopTransactionStatus) NotifyStatus(model.TransactionStatus) error { return nil }

func newTestBroker(t *testing.T, blockSub *fakeBlockChangeSubscriber) (*Broker, config.DataDirectory) {
	t.Helper()
	dataDir, err := config.Prepare(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	registry := cache.NewRegistry(cache.NewLengthPrefixedStorage(1))
	subs := Subscribers{
		BlockChange:       blockSub,
		UTChange:          noopFlush{},
		PTChange:          noopPTFlush{},
		Finalization:      noopFinalization{},
		TransactionStatus: noopTransactionStatus{},
		StateChange:       fakeStateChangeSubscriber{},
	}
	b := New(dataDir, registry, subs, 5*time.Millisecond)
	return b, dataDir
}

func TestDrainReplaysPublishedBlockChangeMessage(t *testing.T) {
	blockSub := &fakeBlockChangeSubscriber{}
	b, dataDir := newTestBroker(t, blockSub)

	writer, err := subscribers.NewFileBlockChangeSubscriber(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	el := model.BlockElement{Block: model.Block{Height: 7, Body: []byte("body")}, Hash: model.Hash256{7}}
	if err := writer.NotifyBlock(el); err != nil {
		t.Fatal(err)
	}

	if err := b.drain(queues[0]); err != nil {
		t.Fatal(err)
	}
	if len(blockSub.blocks) != 1 || blockSub.blocks[0].Block.Height != 7 {
		t.Fatalf("blockSub.blocks = %+v, want one entry at height 7", blockSub.blocks)
	}

	if err := b.drain(queues[0]); err != nil {
		t.Fatal(err)
	}
	if len(blockSub.blocks) != 1 {
		t.Fatalf("expected no re-delivery on empty queue, got %+v", blockSub.blocks)
	}
}

func TestRunStopsOnQuit(t *testing.T) {
	blockSub := &fakeBlockChangeSubscriber{}
	b, _ := newTestBroker(t, blockSub)

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		b.Run(quit)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	close(quit)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after quit was closed")
	}
}
