package wire

import (
	"fmt"
	"io"

	"github.com/ledgerwatch/catapult/errs"
	"github.com/ledgerwatch/catapult/model"
)

// PT (partial/aggregate-bonded transaction) change op discriminants, same
// abstract-rules footing as the UT-change family (spec.md §4.5).
const (
	OpNotifyAddPartials    byte = 0
	OpNotifyAddCosignature byte = 1
	OpNotifyRemovePartials byte = 2
)

// EncodeNotifyAddPartials writes a PT-change "Notify_Add_Partials" message.
func EncodeNotifyAddPartials(w io.Writer, infos []model.TransactionInfo) error {
	return encodeTransactionInfoList(w, OpNotifyAddPartials, infos)
}

// EncodeNotifyRemovePartials writes a PT-change "Notify_Remove_Partials"
// message.
func EncodeNotifyRemovePartials(w io.Writer, infos []model.TransactionInfo) error {
	return encodeTransactionInfoList(w, OpNotifyRemovePartials, infos)
}

// EncodeNotifyAddCosignature writes a PT-change "Notify_Add_Cosignature"
// message: 1 byte op | 32-byte parent transaction hash | 32-byte signer
// public key | 64-byte signature.
func EncodeNotifyAddCosignature(w io.Writer, parentHash model.Hash256, cosig model.Cosignature) error {
	if _, err := w.Write([]byte{OpNotifyAddCosignature}); err != nil {
		return err
	}
	if err := WriteHash256(w, parentHash); err != nil {
		return err
	}
	if err := WritePublicKey(w, cosig.SignerPublicKey); err != nil {
		return err
	}
	return WriteSignature(w, cosig.Signature)
}

// PTChangeMessage is a decoded PT-change message; exactly one of Infos or
// (ParentHash, Cosignature) is meaningful, selected by Op.
type PTChangeMessage struct {
	Op          byte
	Infos       []model.TransactionInfo
	ParentHash  model.Hash256
	Cosignature model.Cosignature
}

// DecodePTChangeMessage parses a PT-change message.
func DecodePTChangeMessage(r io.Reader) (PTChangeMessage, error) {
	var opBuf [1]byte
	if _, err := io.ReadFull(r, opBuf[:]); err != nil {
		return PTChangeMessage{}, fmt.Errorf("catapult: read pt-change op: %w", err)
	}
	switch opBuf[0] {
	case OpNotifyAddPartials, OpNotifyRemovePartials:
		infos, err := decodeTransactionInfoList(r)
		if err != nil {
			return PTChangeMessage{}, err
		}
		return PTChangeMessage{Op: opBuf[0], Infos: infos}, nil
	case OpNotifyAddCosignature:
		parentHash, err := ReadHash256(r)
		if err != nil {
			return PTChangeMessage{}, fmt.Errorf("catapult: read cosignature parent hash: %w", err)
		}
		pub, err := ReadPublicKey(r)
		if err != nil {
			return PTChangeMessage{}, fmt.Errorf("catapult: read cosignature public key: %w", err)
		}
		sig, err := ReadSignature(r)
		if err != nil {
			return PTChangeMessage{}, fmt.Errorf("catapult: read cosignature signature: %w", err)
		}
		return PTChangeMessage{Op: opBuf[0], ParentHash: parentHash, Cosignature: model.Cosignature{SignerPublicKey: pub, Signature: sig}}, nil
	default:
		return PTChangeMessage{}, fmt.Errorf("%w: unknown pt-change op %d", errs.ErrCorruption, opBuf[0])
	}
}
