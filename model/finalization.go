package model

// FinalizationRound identifies a finalization voting round by epoch and
// point (spec.md §6.1: "u32 LE epoch | u32 LE point").
type FinalizationRound struct {
	Epoch uint32
	Point uint32
}

// FinalizedBlock is the payload of a finalization notification: the round
// in which height/hash became finalized (spec.md §4.5, §6.1).
type FinalizedBlock struct {
	Round  FinalizationRound
	Height Height
	Hash   Hash256
}
