package store

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict means a conditional update lost a race; the caller
	// should re-read and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicateAward means the (session, transition) ledger row already
	// exists; the award was applied by an earlier attempt.
	ErrDuplicateAward = errors.New("duplicate award")
)
