package subscribers

import (
	"bytes"

	"github.com/ledgerwatch/catapult/cache"
	"github.com/ledgerwatch/catapult/config"
	catio "github.com/ledgerwatch/catapult/io"
	"github.com/ledgerwatch/catapult/model"
	"github.com/ledgerwatch/catapult/wire"
)

// StateChangeSubscriber receives score and cache-delta notifications
// (spec.md §4.5, §3.6).
type StateChangeSubscriber interface {
	NotifyScoreChange(score model.ChainScore) error
	NotifyStateChange(info model.StateChangeInfo) error
}

// FileStateChangeSubscriber is the file-storage implementation writing to
// <root>/spool/state_change/, delegating sub-cache serialisation to the
// same registry the reader side (statechange package, spec.md §4.7) uses.
type FileStateChangeSubscriber struct {
	w        *catio.FileQueueWriter
	registry *cache.Registry
}

// NewFileStateChangeSubscriber opens the state_change queue under dataDir.
func NewFileStateChangeSubscriber(dataDir config.DataDirectory, registry *cache.Registry) (*FileStateChangeSubscriber, error) {
	w, err := newQueueWriter(dataDir, QueueStateChange)
	if err != nil {
		return nil, err
	}
	return &FileStateChangeSubscriber{w: w, registry: registry}, nil
}

func (s *FileStateChangeSubscriber) NotifyScoreChange(score model.ChainScore) error {
	var buf bytes.Buffer
	if err := wire.EncodeScoreChange(&buf, score); err != nil {
		return err
	}
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *FileStateChangeSubscriber) NotifyStateChange(info model.StateChangeInfo) error {
	var buf bytes.Buffer
	if err := wire.EncodeStateChange(&buf, s.registry, info.Height, info.Changes); err != nil {
		return err
	}
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	return s.w.Flush()
}
