package wire

import (
	"fmt"
	"io"

	"github.com/ledgerwatch/catapult/errs"
	"github.com/ledgerwatch/catapult/model"
)

// UT (unconfirmed transaction) change op discriminants. Not bit-exact per
// spec.md §6.1 (only the block-change, transaction-status, finalization
// and state-change families have a specified wire layout there); this
// family's format follows the abstract serialisation rules of spec.md §4.5
// ("each message begins with a 1-byte operation discriminant ... variable-
// length byte strings are prefixed by a 32-bit length").
const (
	OpNotifyAdds    byte = 0
	OpNotifyRemoves byte = 1
)

// EncodeNotifyAdds writes a UT-change "Notify_Adds" message: 1 byte op |
// u32 LE count | count * {32-byte hash, length-prefixed transaction bytes}.
func EncodeNotifyAdds(w io.Writer, infos []model.TransactionInfo) error {
	return encodeTransactionInfoList(w, OpNotifyAdds, infos)
}

// EncodeNotifyRemoves writes a UT-change "Notify_Removes" message, same
// shape as EncodeNotifyAdds.
func EncodeNotifyRemoves(w io.Writer, infos []model.TransactionInfo) error {
	return encodeTransactionInfoList(w, OpNotifyRemoves, infos)
}

func encodeTransactionInfoList(w io.Writer, op byte, infos []model.TransactionInfo) error {
	if _, err := w.Write([]byte{op}); err != nil {
		return err
	}
	if err := WriteUint32(w, uint32(len(infos))); err != nil {
		return err
	}
	for _, info := range infos {
		if err := WriteHash256(w, info.Hash); err != nil {
			return err
		}
		if err := WriteBytes(w, info.Transaction.Bytes); err != nil {
			return err
		}
	}
	return nil
}

// UTChangeMessage is a decoded UT-change message.
type UTChangeMessage struct {
	Op    byte
	Infos []model.TransactionInfo
}

// DecodeUTChangeMessage parses a UT-change message.
func DecodeUTChangeMessage(r io.Reader) (UTChangeMessage, error) {
	var opBuf [1]byte
	if _, err := io.ReadFull(r, opBuf[:]); err != nil {
		return UTChangeMessage{}, fmt.Errorf("catapult: read ut-change op: %w", err)
	}
	switch opBuf[0] {
	case OpNotifyAdds, OpNotifyRemoves:
		infos, err := decodeTransactionInfoList(r)
		if err != nil {
			return UTChangeMessage{}, err
		}
		return UTChangeMessage{Op: opBuf[0], Infos: infos}, nil
	default:
		return UTChangeMessage{}, fmt.Errorf("%w: unknown ut-change op %d", errs.ErrCorruption, opBuf[0])
	}
}

func decodeTransactionInfoList(r io.Reader) ([]model.TransactionInfo, error) {
	count, err := ReadUint32(r)
	if err != nil {
		return nil, fmt.Errorf("catapult: read transaction info count: %w", err)
	}
	infos := make([]model.TransactionInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		hash, err := ReadHash256(r)
		if err != nil {
			return nil, fmt.Errorf("catapult: read transaction info hash %d: %w", i, err)
		}
		txBytes, err := ReadBytes(r)
		if err != nil {
			return nil, fmt.Errorf("catapult: read transaction info bytes %d: %w", i, err)
		}
		infos = append(infos, model.TransactionInfo{Hash: hash, Transaction: model.Transaction{Bytes: txBytes}})
	}
	return infos, nil
}
