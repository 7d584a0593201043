package negotiation

import "errors"

var (
	// ErrRequestAlreadyPending rejects a second proposal while one is open
	// for the same schedule.
	ErrRequestAlreadyPending = errors.New("a change request is already pending for this schedule")

	// ErrRequestAlreadyResolved rejects a decision on a request that has
	// already reached a terminal state.
	ErrRequestAlreadyResolved = errors.New("change request already resolved")

	// ErrForbidden rejects callers without the authority for an operation.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned for unknown schedules and change requests.
	ErrNotFound = errors.New("not found")
)
