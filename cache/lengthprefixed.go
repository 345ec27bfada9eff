package cache

import (
	"encoding/binary"
	"fmt"
	"io"
)

// LengthPrefixedStorage is a ChangesStorage that frames an opaque payload
// with a u32 little-endian length prefix, matching the variable-length byte
// string convention used elsewhere on the wire (spec.md §4.5: "variable-
// length byte strings are prefixed by a 32-bit length"). It is the default
// registered for tests and for the reference server/broker binaries; real
// deployments register their own domain-specific sub-cache codecs.
type LengthPrefixedStorage struct {
	id uint32
}

// NewLengthPrefixedStorage returns a LengthPrefixedStorage for cache id.
func NewLengthPrefixedStorage(id uint32) *LengthPrefixedStorage {
	return &LengthPrefixedStorage{id: id}
}

func (s *LengthPrefixedStorage) CacheID() uint32 { return s.id }

func (s *LengthPrefixedStorage) Save(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("catapult: write cache %d payload length: %w", s.id, err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("catapult: write cache %d payload: %w", s.id, err)
	}
	return nil
}

func (s *LengthPrefixedStorage) Load(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("catapult: read cache %d payload length: %w", s.id, err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("catapult: read cache %d payload: %w", s.id, err)
	}
	return payload, nil
}
