package subscribers

import (
	"bytes"

	"github.com/ledgerwatch/catapult/config"
	catio "github.com/ledgerwatch/catapult/io"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/wire"
)

// UTChangeSubscriber receives unconfirmed-transaction change notifications
// (spec.md §4.5). NotifyAdds/NotifyRemoves append to the queue's currently
// open message file without publishing it; Flush causes one FQ flush
// (spec.md §4.5: "flush() on UT/PT subscribers causes one FQ flush() call").
type UTChangeSubscriber interface {
	NotifyAdds(infos []model.TransactionInfo) error
	NotifyRemoves(infos []model.TransactionInfo) error
	Flush() error
}

// FileUTChangeSubscriber is the file-storage implementation writing to
// <root>/spool/unconfirmed_transactions_change/.
type FileUTChangeSubscriber struct {
	w *catio.FileQueueWriter
}

// NewFileUTChangeSubscriber opens the unconfirmed_transactions_change
// queue under dataDir.
func NewFileUTChangeSubscriber(dataDir config.DataDirectory) (*FileUTChangeSubscriber, error) {
	w, err := newQueueWriter(dataDir, QueueUTChange)
	if err != nil {
		return nil, err
	}
	return &FileUTChangeSubscriber{w: w}, nil
}

func (s *FileUTChangeSubscriber) NotifyAdds(infos []model.TransactionInfo) error {
	var buf bytes.Buffer
	if err := wire.EncodeNotifyAdds(&buf, infos); err != nil {
		return err
	}
	_, err := s.w.Write(buf.Bytes())
	return err
}

func (s *FileUTChangeSubscriber) NotifyRemoves(infos []model.TransactionInfo) error {
	var buf bytes.Buffer
	if err := wire.EncodeNotifyRemoves(&buf, infos); err != nil {
		return err
	}
	_, err := s.w.Write(buf.Bytes())
	return err
}

func (s *FileUTChangeSubscriber) Flush() error { return s.w.Flush() }
