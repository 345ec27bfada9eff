package subscribers

import (
	"bytes"

	"github.com/ledgerwatch/catapult/config"
	catio "github.com/ledgerwatch/catapult/io"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/wire"
)

// BlockChangeSubscriber receives block-change notifications (spec.md §4.5).
type BlockChangeSubscriber interface {
	NotifyBlock(el model.BlockElement) error
	NotifyDropBlocksAfter(h model.Height) error
}

// FileBlockChangeSubscriber is the file-storage implementation writing to
// <root>/spool/block_change/. Every notify call is one complete,
// immediately-flushed message (spec.md §6.1: the block-change wire format
// has no trailing framing that would allow two notifications to share a
// message file).
type FileBlockChangeSubscriber struct {
	w *catio.FileQueueWriter
}

// NewFileBlockChangeSubscriber opens the block_change queue under dataDir.
func NewFileBlockChangeSubscriber(dataDir config.DataDirectory) (*FileBlockChangeSubscriber, error) {
	w, err := newQueueWriter(dataDir, QueueBlockChange)
	if err != nil {
		return nil, err
	}
	return &FileBlockChangeSubscriber{w: w}, nil
}

func (s *FileBlockChangeSubscriber) NotifyBlock(el model.BlockElement) error {
	var buf bytes.Buffer
	if err := wire.EncodeNotifyBlock(&buf, el); err != nil {
		return err
	}
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *FileBlockChangeSubscriber) NotifyDropBlocksAfter(h model.Height) error {
	var buf bytes.Buffer
	if err := wire.EncodeNotifyDropBlocksAfter(&buf, h); err != nil {
		return err
	}
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	return s.w.Flush()
}
