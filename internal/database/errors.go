package database

import "errors"

// Sentinel errors returned by repositories. Callers use errors.Is to
// map them to HTTP statuses.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a uniqueness constraint is violated.
	ErrDuplicate = errors.New("duplicate row")

	// ErrNotClaimed is returned when a pending row could not be claimed
	// because another runner transitioned it first.
	ErrNotClaimed = errors.New("row not claimed")
)
