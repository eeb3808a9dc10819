// Package storage provides the local durable store the review engine
// runs on while offline. The Store interface is satisfied by a SQLite
// implementation for production and an in-memory one for tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
)

// SessionUpdate describes a partial session update. Nil fields are
// left untouched, so concurrent writers cannot clobber each other's
// columns.
type SessionUpdate struct {
	Status       *review.SessionStatus
	CurrentIndex *int
	Items        []review.ReviewSessionItem // nil leaves items unchanged
	PausedAt     *time.Time
	ClearPaused  bool
	EndedAt      *time.Time
	UpdatedAt    time.Time
}

// QueueStatus summarises the sync queue.
type QueueStatus struct {
	Pending      int
	DeadLettered int
	Total        int
}

// Store is the local durable persistence contract. All methods take a
// context and return wrapped review.ErrStorage on persistence failure;
// lookups for missing records return review.ErrNotFound.
type Store interface {
	SaveSession(ctx context.Context, s *review.ReviewSession) error
	UpdateSession(ctx context.Context, id string, upd SessionUpdate) error
	GetSession(ctx context.Context, id string) (*review.ReviewSession, error)
	DeleteSession(ctx context.Context, id string) error
	// ActiveSessionForUser returns the user's active or paused
	// session, or (nil, nil) when there is none.
	ActiveSessionForUser(ctx context.Context, userID string) (*review.ReviewSession, error)
	SessionsForUser(ctx context.Context, userID string) ([]review.ReviewSession, error)

	SaveStatistics(ctx context.Context, st *review.SessionStatistics) error
	GetStatistics(ctx context.Context, sessionID string) (*review.SessionStatistics, error)

	SaveSRSData(ctx context.Context, d review.SRSData) error
	GetSRSData(ctx context.Context, userID, itemID string) (*review.SRSData, error)
	// QueryDue returns all of the user's items due at or before the
	// given time, soonest first.
	QueryDue(ctx context.Context, userID string, before time.Time) ([]review.SRSData, error)

	AppendReview(ctx context.Context, r review.ReviewRecord) error

	// EnqueueMutation persists the mutation before returning; a crash
	// immediately after must not lose it.
	EnqueueMutation(ctx context.Context, m review.SyncMutation) error
	// PendingMutations returns queued mutations in insertion order.
	PendingMutations(ctx context.Context) ([]review.SyncMutation, error)
	UpdateMutation(ctx context.Context, m review.SyncMutation) error
	DeleteMutation(ctx context.Context, id string) error
	MoveToDeadLetter(ctx context.Context, id, reason string) error
	DeadLetters(ctx context.Context) ([]review.SyncMutation, error)
	QueueStatus(ctx context.Context) (QueueStatus, error)

	// Cleanup prunes terminal sessions, their statistics, and review
	// history older than maxAgeDays. Returns the number of sessions
	// removed. Retention is caller-controlled; nothing prunes
	// automatically.
	Cleanup(ctx context.Context, maxAgeDays int) (int64, error)

	Close() error
}

func wrap(op string, err error) error {
	return fmt.Errorf("storage: %s: %w", op, errors.Join(review.ErrStorage, err))
}
