package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledgerwatch/catapult/cache"
	"github.com/ledgerwatch/catapult/errs"
	"github.com/ledgerwatch/catapult/model"
)

// Block-change message op discriminants (spec.md §6.1).
const (
	OpNotifyBlock              byte = 0
	OpNotifyDropBlocksAfter    byte = 1
)

// EncodeNotifyBlock writes a block-change "Notify_Block" message: 1 byte op
// | serialised BlockElement.
func EncodeNotifyBlock(w io.Writer, el model.BlockElement) error {
	if _, err := w.Write([]byte{OpNotifyBlock}); err != nil {
		return err
	}
	return EncodeBlockElement(w, el.Block.Body, el.Hash)
}

// EncodeNotifyDropBlocksAfter writes a block-change "Notify_Drop_Blocks_After"
// message: 1 byte op | u64 LE height.
func EncodeNotifyDropBlocksAfter(w io.Writer, height model.Height) error {
	if _, err := w.Write([]byte{OpNotifyDropBlocksAfter}); err != nil {
		return err
	}
	return WriteUint64(w, uint64(height))
}

// BlockChangeMessage is a decoded block-change message: exactly one of
// Element or DropAfterHeight (selected by Op) is meaningful.
type BlockChangeMessage struct {
	Op             byte
	Element        model.BlockElement
	DropAfterHeight model.Height
}

// DecodeBlockChangeMessage parses a block-change message (spec.md §6.1).
func DecodeBlockChangeMessage(r io.Reader) (BlockChangeMessage, error) {
	var opBuf [1]byte
	if _, err := io.ReadFull(r, opBuf[:]); err != nil {
		return BlockChangeMessage{}, fmt.Errorf("catapult: read block-change op: %w", err)
	}
	switch opBuf[0] {
	case OpNotifyBlock:
		body, hash, err := DecodeBlockElement(r)
		if err != nil {
			return BlockChangeMessage{}, err
		}
		return BlockChangeMessage{Op: OpNotifyBlock, Element: model.BlockElement{Block: model.Block{Body: body}, Hash: hash}}, nil
	case OpNotifyDropBlocksAfter:
		h, err := ReadUint64(r)
		if err != nil {
			return BlockChangeMessage{}, fmt.Errorf("catapult: read drop-blocks-after height: %w", err)
		}
		return BlockChangeMessage{Op: OpNotifyDropBlocksAfter, DropAfterHeight: model.Height(h)}, nil
	default:
		return BlockChangeMessage{}, fmt.Errorf("%w: unknown block-change op %d", errs.ErrCorruption, opBuf[0])
	}
}

// EncodeTransactionStatus writes a transaction-status message: 32-byte hash
// | u32 LE status code | serialised transaction bytes (spec.md §6.1).
func EncodeTransactionStatus(w io.Writer, status model.TransactionStatus) error {
	if err := WriteHash256(w, status.Hash); err != nil {
		return err
	}
	if err := WriteUint32(w, status.StatusCode); err != nil {
		return err
	}
	_, err := w.Write(status.Transaction.Bytes)
	return err
}

// DecodeTransactionStatus parses a transaction-status message. The
// transaction bytes occupy the remainder of the message (no trailing
// length prefix; the message file boundary delimits them).
func DecodeTransactionStatus(r io.Reader) (model.TransactionStatus, error) {
	hash, err := ReadHash256(r)
	if err != nil {
		return model.TransactionStatus{}, fmt.Errorf("catapult: read transaction status hash: %w", err)
	}
	code, err := ReadUint32(r)
	if err != nil {
		return model.TransactionStatus{}, fmt.Errorf("catapult: read transaction status code: %w", err)
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		return model.TransactionStatus{}, fmt.Errorf("catapult: read transaction status bytes: %w", err)
	}
	return model.TransactionStatus{Hash: hash, StatusCode: code, Transaction: model.Transaction{Bytes: rest}}, nil
}

// EncodeFinalizedBlock writes a finalization message: u32 LE epoch | u32 LE
// point | u64 LE height | 32-byte hash (spec.md §6.1).
func EncodeFinalizedBlock(w io.Writer, fb model.FinalizedBlock) error {
	if err := WriteUint32(w, fb.Round.Epoch); err != nil {
		return err
	}
	if err := WriteUint32(w, fb.Round.Point); err != nil {
		return err
	}
	if err := WriteUint64(w, uint64(fb.Height)); err != nil {
		return err
	}
	return WriteHash256(w, fb.Hash)
}

// DecodeFinalizedBlock parses a finalization message.
func DecodeFinalizedBlock(r io.Reader) (model.FinalizedBlock, error) {
	epoch, err := ReadUint32(r)
	if err != nil {
		return model.FinalizedBlock{}, fmt.Errorf("catapult: read finalization epoch: %w", err)
	}
	point, err := ReadUint32(r)
	if err != nil {
		return model.FinalizedBlock{}, fmt.Errorf("catapult: read finalization point: %w", err)
	}
	height, err := ReadUint64(r)
	if err != nil {
		return model.FinalizedBlock{}, fmt.Errorf("catapult: read finalization height: %w", err)
	}
	hash, err := ReadHash256(r)
	if err != nil {
		return model.FinalizedBlock{}, fmt.Errorf("catapult: read finalization hash: %w", err)
	}
	return model.FinalizedBlock{Round: model.FinalizationRound{Epoch: epoch, Point: point}, Height: model.Height(height), Hash: hash}, nil
}

// State-change message op discriminants (spec.md §3.6, §6.1).
const (
	OpScoreChange byte = 0
	OpStateChange byte = 1
)

// EncodeScoreChange writes a state-change "Score_Change" message: 1 byte op
// | u64 LE score_high | u64 LE score_low.
func EncodeScoreChange(w io.Writer, score model.ChainScore) error {
	if _, err := w.Write([]byte{OpScoreChange}); err != nil {
		return err
	}
	if err := WriteUint64(w, score.High); err != nil {
		return err
	}
	return WriteUint64(w, score.Low)
}

// EncodeStateChange writes a state-change "State_Change" message: 1 byte op
// | u64 LE height | concatenation of {u32 LE cache_id, cache payload}
// tuples, one per entry, serialised via registry.
func EncodeStateChange(w io.Writer, registry *cache.Registry, height model.Height, changes model.CacheChanges) error {
	if _, err := w.Write([]byte{OpStateChange}); err != nil {
		return err
	}
	if err := WriteUint64(w, uint64(height)); err != nil {
		return err
	}
	for _, entry := range changes.Entries {
		storage, ok := registry.Lookup(entry.CacheID)
		if !ok {
			return fmt.Errorf("%w: no registered cache storage for id %d", errs.ErrInvariantViolation, entry.CacheID)
		}
		if err := WriteUint32(w, entry.CacheID); err != nil {
			return err
		}
		if err := storage.Save(w, entry.Payload); err != nil {
			return err
		}
	}
	return nil
}

// DecodeStateChangeMessage parses a state-change message fully (used by
// tests and by the one-shot decode path; streaming decode that calls a
// subscriber as it goes lives in the statechange package, §4.7).
func DecodeStateChangeMessage(r io.Reader, registry *cache.Registry) (model.StateChangeInfo, error) {
	var opBuf [1]byte
	if _, err := io.ReadFull(r, opBuf[:]); err != nil {
		return model.StateChangeInfo{}, fmt.Errorf("catapult: read state-change op: %w", err)
	}
	switch opBuf[0] {
	case OpScoreChange:
		hi, err := ReadUint64(r)
		if err != nil {
			return model.StateChangeInfo{}, fmt.Errorf("catapult: read score high word: %w", err)
		}
		lo, err := ReadUint64(r)
		if err != nil {
			return model.StateChangeInfo{}, fmt.Errorf("catapult: read score low word: %w", err)
		}
		return model.StateChangeInfo{Kind: model.ScoreChange, Score: model.ChainScore{High: hi, Low: lo}}, nil
	case OpStateChange:
		height, err := ReadUint64(r)
		if err != nil {
			return model.StateChangeInfo{}, fmt.Errorf("catapult: read state-change height: %w", err)
		}
		var entries []model.CacheChangeEntry
		for {
			id, err := ReadUint32(r)
			if err == io.EOF {
				break
			}
			if err != nil {
				return model.StateChangeInfo{}, fmt.Errorf("catapult: read cache id: %w", err)
			}
			storage, ok := registry.Lookup(id)
			if !ok {
				return model.StateChangeInfo{}, fmt.Errorf("%w: no registered cache storage for id %d", errs.ErrCorruption, id)
			}
			payload, err := storage.Load(r)
			if err != nil {
				return model.StateChangeInfo{}, err
			}
			entries = append(entries, model.CacheChangeEntry{CacheID: id, Payload: payload})
		}
		return model.StateChangeInfo{
			Kind:    model.StateChangeKindState,
			Height:  model.Height(height),
			Changes: model.CacheChanges{Entries: entries},
		}, nil
	default:
		return model.StateChangeInfo{}, fmt.Errorf("%w: unknown state-change op %d", errs.ErrCorruption, opBuf[0])
	}
}

// EncodeStateChangeBytes is a convenience that returns the encoded message
// as a standalone byte slice, choosing the encoder by info.Kind. The
// file-storage subscribers do not use it; they call EncodeScoreChange and
// EncodeStateChange directly.
func EncodeStateChangeBytes(registry *cache.Registry, info model.StateChangeInfo) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch info.Kind {
	case model.ScoreChange:
		err = EncodeScoreChange(&buf, info.Score)
	case model.StateChangeKindState:
		err = EncodeStateChange(&buf, registry, info.Height, info.Changes)
	default:
		return nil, fmt.Errorf("%w: unknown StateChangeInfo kind %d", errs.ErrInvariantViolation, info.Kind)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
