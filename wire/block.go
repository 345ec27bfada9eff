package wire

import (
	"fmt"
	"io"
)

// EncodeBlock writes a plain block file: u32 LE size | body bytes
// (spec.md §3.4, §6.1 — "plain-block files omit the hash").
func EncodeBlock(w io.Writer, body []byte) error {
	if err := WriteUint32(w, uint32(len(body))); err != nil {
		return fmt.Errorf("catapult: write block size: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("catapult: write block body: %w", err)
	}
	return nil
}

// DecodeBlock reads a plain block file written by EncodeBlock.
func DecodeBlock(r io.Reader) ([]byte, error) {
	size, err := ReadUint32(r)
	if err != nil {
		return nil, fmt.Errorf("catapult: read block size: %w", err)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("catapult: read block body (declared size %d): %w", size, err)
	}
	return body, nil
}

// EncodeBlockElement writes a block-element file: u32 LE size | body bytes
// | 32-byte hash (spec.md §3.4, §6.1).
func EncodeBlockElement(w io.Writer, body []byte, hash [32]byte) error {
	if err := EncodeBlock(w, body); err != nil {
		return err
	}
	if _, err := w.Write(hash[:]); err != nil {
		return fmt.Errorf("catapult: write block hash: %w", err)
	}
	return nil
}

// DecodeBlockElement reads a block-element file written by
// EncodeBlockElement, returning the body and hash.
func DecodeBlockElement(r io.Reader) (body []byte, hash [32]byte, err error) {
	body, err = DecodeBlock(r)
	if err != nil {
		return nil, hash, err
	}
	if _, err = io.ReadFull(r, hash[:]); err != nil {
		return nil, hash, fmt.Errorf("catapult: read block hash: %w", err)
	}
	return body, hash, nil
}
