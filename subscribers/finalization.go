package subscribers

import (
	"bytes"

	"github.com/ledgerwatch/catapult/config"
	catio "github.com/ledgerwatch/catapult/io"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/wire"
)

// FinalizationSubscriber receives finalization notifications (spec.md
// §4.5).
type FinalizationSubscriber interface {
	NotifyFinalizedBlock(fb model.FinalizedBlock) error
}

// FileFinalizationSubscriber is the file-storage implementation writing to
// <root>/spool/finalization/.
type FileFinalizationSubscriber struct {
	w *catio.FileQueueWriter
}

// NewFileFinalizationSubscriber opens the finalization queue under
// dataDir.
func NewFileFinalizationSubscriber(dataDir config.DataDirectory) (*FileFinalizationSubscriber, error) {
	w, err := newQueueWriter(dataDir, QueueFinalization)
	if err != nil {
		return nil, err
	}
	return &FileFinalizationSubscriber{w: w}, nil
}

func (s *FileFinalizationSubscriber) NotifyFinalizedBlock(fb model.FinalizedBlock) error {
	var buf bytes.Buffer
	if err := wire.EncodeFinalizedBlock(&buf, fb); err != nil {
		return err
	}
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	return s.w.Flush()
}
