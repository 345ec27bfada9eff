// Package model holds the wire-level value types the core passes between
// components: blocks, chain scores, state-change payloads, transactions and
// finalization votes. Block validation, consensus and transaction execution
// are external collaborators (spec.md §1); this package only defines the
// shapes those collaborators hand to the core.
package model

// Height is a 1-indexed block number; block 1 is the genesis block
// (spec.md, GLOSSARY).
type Height uint64

// Hash256 is a fixed-width 32-byte hash (block hash, transaction hash, ...).
type Hash256 [32]byte

// PublicKey is a fixed-width 32-byte public key.
type PublicKey [32]byte

// Signature is a fixed-width 64-byte signature.
type Signature [64]byte

// ChainScore is a 128-bit cumulative chain score expressed as two u64 words
// (spec.md §3.6, §6.1).
type ChainScore struct {
	High uint64
	Low  uint64
}
