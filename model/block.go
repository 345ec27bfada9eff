package model

// Block is the canonical, opaque serialised form of a block body produced
// by the consensus/execution layer (spec.md §1: block validation and
// consensus are external collaborators; the core treats their output as an
// opaque byte payload tagged with a height).
type Block struct {
	Height Height
	Body   []byte
}

// BlockElement is a block together with its computed hash, as persisted by
// canonical block storage (spec.md §3.4, §6.1: "an element additionally
// carries the block hash at the tail").
type BlockElement struct {
	Block Block
	Hash  Hash256
}
