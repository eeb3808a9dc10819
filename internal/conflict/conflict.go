// Package conflict resolves write conflicts between a locally queued
// mutation and a newer remote record. The strategy is deliberately
// last-write-wins by updatedAt with post-resolution validation, not a
// field-level merge: an earlier multi-strategy merge resolver measurably
// increased latency and failure rate and was removed.
package conflict

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
)

// Record pairs a payload with the modification timestamp used to pick
// a winner.
type Record struct {
	UpdatedAt time.Time
	Payload   json.RawMessage
}

// Resolver picks a winning record and validates it before acceptance.
type Resolver struct {
	validate *validator.Validate
}

// NewResolver returns a Resolver with invariant checks registered.
func NewResolver() *Resolver {
	return &Resolver{validate: validator.New()}
}

// Resolve returns whichever of local/remote has the greater updatedAt,
// after validating it. A tie keeps the local record. Validation
// failure returns *review.ConflictValidationError; the caller treats
// it like an apply failure (retry, then dead-letter).
func (r *Resolver) Resolve(typ review.MutationType, local, remote Record) (Record, error) {
	winner := local
	if remote.UpdatedAt.After(local.UpdatedAt) {
		winner = remote
	}
	if err := r.validateWinner(typ, winner.Payload); err != nil {
		return Record{}, err
	}
	return winner, nil
}

func (r *Resolver) validateWinner(typ review.MutationType, payload json.RawMessage) error {
	switch typ {
	case review.MutationStatistics:
		return r.validateStatistics(payload)
	case review.MutationSession:
		return r.validateSession(payload)
	case review.MutationProgress:
		return r.validateProgress(payload)
	default:
		// Answer mutations are append-only records; there is nothing
		// to cross-check.
		return nil
	}
}

type statisticsPayload struct {
	TotalItems     int     `json:"totalItems" validate:"gte=0"`
	CompletedItems int     `json:"completedItems" validate:"gte=0,ltefield=TotalItems"`
	CorrectItems   int     `json:"correctItems" validate:"gte=0,ltefield=CompletedItems"`
	IncorrectItems int     `json:"incorrectItems" validate:"gte=0"`
	SkippedItems   int     `json:"skippedItems" validate:"gte=0"`
	Accuracy       float64 `json:"accuracy" validate:"gte=0,lte=100"`
	CurrentStreak  int     `json:"currentStreak" validate:"gte=0,ltefield=BestStreak"`
	BestStreak     int     `json:"bestStreak" validate:"gte=0"`
}

func (r *Resolver) validateStatistics(payload json.RawMessage) error {
	var st statisticsPayload
	if err := json.Unmarshal(payload, &st); err != nil {
		return &review.ConflictValidationError{Type: review.MutationStatistics, Reason: fmt.Sprintf("malformed payload: %v", err)}
	}
	if err := r.validate.Struct(st); err != nil {
		return &review.ConflictValidationError{Type: review.MutationStatistics, Reason: err.Error()}
	}
	if st.CorrectItems+st.IncorrectItems != st.CompletedItems {
		return &review.ConflictValidationError{
			Type:   review.MutationStatistics,
			Reason: fmt.Sprintf("correct (%d) + incorrect (%d) != completed (%d)", st.CorrectItems, st.IncorrectItems, st.CompletedItems),
		}
	}
	if st.CompletedItems+st.SkippedItems > st.TotalItems {
		return &review.ConflictValidationError{
			Type:   review.MutationStatistics,
			Reason: fmt.Sprintf("completed (%d) + skipped (%d) > total (%d)", st.CompletedItems, st.SkippedItems, st.TotalItems),
		}
	}
	return nil
}

type sessionPayload struct {
	ID           string                     `json:"id" validate:"required"`
	UserID       string                     `json:"userId" validate:"required"`
	Status       review.SessionStatus       `json:"status"`
	CurrentIndex int                        `json:"currentIndex" validate:"gte=0"`
	Items        []review.ReviewSessionItem `json:"items"`
}

func (r *Resolver) validateSession(payload json.RawMessage) error {
	var sess sessionPayload
	if err := json.Unmarshal(payload, &sess); err != nil {
		return &review.ConflictValidationError{Type: review.MutationSession, Reason: fmt.Sprintf("malformed payload: %v", err)}
	}
	if err := r.validate.Struct(sess); err != nil {
		return &review.ConflictValidationError{Type: review.MutationSession, Reason: err.Error()}
	}
	if sess.CurrentIndex > len(sess.Items) {
		return &review.ConflictValidationError{
			Type:   review.MutationSession,
			Reason: fmt.Sprintf("currentIndex %d past end of %d items", sess.CurrentIndex, len(sess.Items)),
		}
	}
	return nil
}

type progressPayload struct {
	ItemID      string  `json:"itemId" validate:"required"`
	Interval    int     `json:"interval" validate:"gte=0"`
	EaseFactor  float64 `json:"easeFactor" validate:"gte=1,lte=3"`
	Repetitions int     `json:"repetitions" validate:"gte=0"`
}

func (r *Resolver) validateProgress(payload json.RawMessage) error {
	var p progressPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return &review.ConflictValidationError{Type: review.MutationProgress, Reason: fmt.Sprintf("malformed payload: %v", err)}
	}
	if err := r.validate.Struct(p); err != nil {
		return &review.ConflictValidationError{Type: review.MutationProgress, Reason: err.Error()}
	}
	return nil
}
