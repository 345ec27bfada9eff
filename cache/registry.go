// Package cache defines the pluggable per-sub-cache serialisation registry
// that state-change messages delegate to (spec.md §4.5, §4.7). The registry
// is immutable after construction (spec.md §5: "The cache-changes-storage
// registry is immutable after process start") and is supplied by the
// hosting process; this package only defines its contract and a default
// implementation used by tests and the reference binaries.
//
// Grounded on original_source's cache::CacheChangesStorage, referenced by
// RepairState.cpp and StateChangeReader.h but whose own header was not part
// of the retrieved pack — only its call sites were, so this contract is
// reconstructed from how it is used rather than translated line for line.
package cache

import "io"

// ChangesStorage serialises and deserialises one registered sub-cache's
// delta payload. Each message-level record is self-delimiting: Save writes
// exactly one record, Load consumes exactly one record and nothing more, so
// a state-change message can concatenate records from multiple caches
// without any outer length prefix (spec.md §6.1).
type ChangesStorage interface {
	// CacheID is the stable numeric id this storage is registered under.
	CacheID() uint32

	// Save writes payload as one self-delimiting record to w.
	Save(w io.Writer, payload []byte) error

	// Load reads and returns exactly one self-delimiting record from r.
	Load(r io.Reader) ([]byte, error)
}

// Registry is an immutable, ordered set of ChangesStorage implementations,
// keyed by cache id. Order reports registration order; writers serialise
// sub-caches in the order a CacheChanges lists its entries, not in
// registration order.
type Registry struct {
	order []uint32
	byID  map[uint32]ChangesStorage
}

// NewRegistry builds an immutable registry from storages. Duplicate cache
// ids are a caller programming error (spec.md §7, Invariant violation).
func NewRegistry(storages ...ChangesStorage) *Registry {
	r := &Registry{byID: make(map[uint32]ChangesStorage, len(storages))}
	for _, s := range storages {
		id := s.CacheID()
		if _, exists := r.byID[id]; exists {
			panic("catapult: duplicate cache id registered")
		}
		r.byID[id] = s
		r.order = append(r.order, id)
	}
	return r
}

// Lookup returns the storage registered for id, and whether it was found.
func (r *Registry) Lookup(id uint32) (ChangesStorage, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// Order returns the cache ids in registration order.
func (r *Registry) Order() []uint32 {
	out := make([]uint32, len(r.order))
	copy(out, r.order)
	return out
}
