package subscribers

import (
	"bytes"

	"github.com/ledgerwatch/catapult/config"
	catio "github.com/ledgerwatch/catapult/io"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/wire"
)

// PTChangeSubscriber receives partial (aggregate bonded) transaction
// change notifications (spec.md §4.5); same batching/flush semantics as
// UTChangeSubscriber.
type PTChangeSubscriber interface {
	NotifyAddPartials(infos []model.TransactionInfo) error
	NotifyAddCosignature(parentHash model.Hash256, cosig model.Cosignature) error
	NotifyRemovePartials(infos []model.TransactionInfo) error
	Flush() error
}

// FilePTChangeSubscriber is the file-storage implementation writing to
// <root>/spool/partial_transactions_change/.
type FilePTChangeSubscriber struct {
	w *catio.FileQueueWriter
}

// NewFilePTChangeSubscriber opens the partial_transactions_change queue
// under dataDir.
func NewFilePTChangeSubscriber(dataDir config.DataDirectory) (*FilePTChangeSubscriber, error) {
	w, err := newQueueWriter(dataDir, QueuePTChange)
	if err != nil {
		return nil, err
	}
	return &FilePTChangeSubscriber{w: w}, nil
}

func (s *FilePTChangeSubscriber) NotifyAddPartials(infos []model.TransactionInfo) error {
	var buf bytes.Buffer
	if err := wire.EncodeNotifyAddPartials(&buf, infos); err != nil {
		return err
	}
	_, err := s.w.Write(buf.Bytes())
	return err
}

func (s *FilePTChangeSubscriber) NotifyAddCosignature(parentHash model.Hash256, cosig model.Cosignature) error {
	var buf bytes.Buffer
	if err := wire.EncodeNotifyAddCosignature(&buf, parentHash, cosig); err != nil {
		return err
	}
	_, err := s.w.Write(buf.Bytes())
	return err
}

func (s *FilePTChangeSubscriber) NotifyRemovePartials(infos []model.TransactionInfo) error {
	var buf bytes.Buffer
	if err := wire.EncodeNotifyRemovePartials(&buf, infos); err != nil {
		return err
	}
	_, err := s.w.Write(buf.Bytes())
	return err
}

func (s *FilePTChangeSubscriber) Flush() error { return s.w.Flush() }
