package subscribers

import (
	"bytes"

	"github.com/ledgerwatch/catapult/config"
	catio "github.com/ledgerwatch/catapult/io"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/wire"
)

// TransactionStatusSubscriber receives transaction-validation-outcome
// notifications (spec.md §4.5).
type TransactionStatusSubscriber interface {
	NotifyStatus(status model.TransactionStatus) error
}

// FileTransactionStatusSubscriber is the file-storage implementation
// writing to <root>/spool/transaction_status/.
type FileTransactionStatusSubscriber struct {
	w *catio.FileQueueWriter
}

// NewFileTransactionStatusSubscriber opens the transaction_status queue
// under dataDir.
func NewFileTransactionStatusSubscriber(dataDir config.DataDirectory) (*FileTransactionStatusSubscriber, error) {
	w, err := newQueueWriter(dataDir, QueueTransactionStatus)
	if err != nil {
		return nil, err
	}
	return &FileTransactionStatusSubscriber{w: w}, nil
}

func (s *FileTransactionStatusSubscriber) NotifyStatus(status model.TransactionStatus) error {
	var buf bytes.Buffer
	if err := wire.EncodeTransactionStatus(&buf, status); err != nil {
		return err
	}
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	return s.w.Flush()
}
