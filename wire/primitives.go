// Package wire implements the bit-exact binary encodings from spec.md §6.1:
// block files, and the six subscriber message families. Multi-byte
// integers are little-endian; hashes and public keys are fixed-width byte
// arrays; variable-length byte strings are length-prefixed by a u32.
//
// This package is shared by the write side (subscribers package, §4.5) and
// the read side (statechange package, §4.7) so that encode/decode stay in
// lock-step by construction rather than by convention.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ledgerwatch/catapult/model"
)

func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func WriteHash256(w io.Writer, h model.Hash256) error {
	_, err := w.Write(h[:])
	return err
}

func ReadHash256(r io.Reader) (model.Hash256, error) {
	var h model.Hash256
	_, err := io.ReadFull(r, h[:])
	return h, err
}

func WritePublicKey(w io.Writer, k model.PublicKey) error {
	_, err := w.Write(k[:])
	return err
}

func ReadPublicKey(r io.Reader) (model.PublicKey, error) {
	var k model.PublicKey
	_, err := io.ReadFull(r, k[:])
	return k, err
}

func WriteSignature(w io.Writer, s model.Signature) error {
	_, err := w.Write(s[:])
	return err
}

func ReadSignature(r io.Reader) (model.Signature, error) {
	var s model.Signature
	_, err := io.ReadFull(r, s[:])
	return s, err
}

// WriteBytes writes a variable-length byte string as a u32 length prefix
// followed by the bytes themselves.
func WriteBytes(w io.Writer, b []byte) error {
	if err := WriteUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadBytes reads a u32-length-prefixed variable-length byte string.
func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("catapult: read %d-byte string: %w", n, err)
	}
	return buf, nil
}
