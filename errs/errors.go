// Package errs holds the sentinel errors shared across the core so callers
// can classify a failure with errors.Is instead of string-matching messages
// (spec.md §7 names these by kind, not by type name).
package errs

import "errors"

var (
	// ErrCorruption signals an index pointing at a missing message file, a
	// block file whose declared size mismatches, or an out-of-range wire
	// discriminant. Fatal: the process must log and exit, not retry.
	ErrCorruption = errors.New("catapult: corruption detected")

	// ErrInvariantViolation signals a non-contiguous block save, a
	// backwards index advance, or a replay past the writer position.
	// Always a programming error in a caller.
	ErrInvariantViolation = errors.New("catapult: invariant violation")

	// ErrAlreadyPresent is returned by a strict-mode save for an existing
	// height. In idempotent mode the same condition is not an error.
	ErrAlreadyPresent = errors.New("catapult: height already present")

	// ErrClosed indicates an operation was attempted after the owning
	// resource (IndexFile, FileQueueWriter, ...) was closed.
	ErrClosed = errors.New("catapult: resource closed")
)
