package review

import (
	"errors"
	"fmt"
)

// Sentinel errors for the review engine.
// Use errors.Is to check: errors.Is(err, review.ErrSessionConflict)
var (
	// ErrSessionConflict is returned when a session start is attempted
	// while the user already has an active session.
	ErrSessionConflict = errors.New("review: an active session already exists for this user")

	// ErrNoActiveSession is returned by session operations that
	// require an active session.
	ErrNoActiveSession = errors.New("review: no active session")

	// ErrSyncTransport marks network or remote-API failures captured
	// by the sync queue's retry loop.
	ErrSyncTransport = errors.New("review: sync transport failure")

	// ErrStorage marks local persistence failures. These are fatal to
	// the current operation and surface to the caller.
	ErrStorage = errors.New("review: storage failure")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("review: not found")
)

// ValidationError reports malformed answer or session data. These are
// caller-facing: they indicate a programming or UI-sequencing error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("review: invalid %s: %s", e.Field, e.Reason)
}

// ConflictValidationError reports that a conflict-resolution winner
// failed invariant checks. The sync queue treats it like an apply
// failure: the mutation follows the retry/dead-letter path.
type ConflictValidationError struct {
	Type   MutationType
	Reason string
}

func (e *ConflictValidationError) Error() string {
	return fmt.Sprintf("review: resolved %s state failed validation: %s", e.Type, e.Reason)
}
