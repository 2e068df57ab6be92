package timelock

import "errors"

// Rejection taxonomy of the scheduler. Every failure aborts the whole
// call with no partial state change; nothing is retried internally.
var (
	// ErrUnauthorized means the authority policy denied the caller.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDuplicateAction means an action with the same identifier is
	// already planned.
	ErrDuplicateAction = errors.New("duplicate action")

	// ErrNotPlanned means no live action matches the supplied triple.
	ErrNotPlanned = errors.New("action not planned")

	// ErrNotMatured means the action's scheduled time has not elapsed.
	ErrNotMatured = errors.New("action not matured")

	// ErrExecutionFailed means target dispatch failed. The action is
	// consumed regardless; execution is one-shot.
	ErrExecutionFailed = errors.New("execution failed")
)
