package conflict

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
)

var (
	t100 = time.Unix(100, 0)
	t200 = time.Unix(200, 0)
)

const validStats = `{"totalItems":10,"completedItems":5,"correctItems":4,"incorrectItems":1,"skippedItems":0,"accuracy":80,"currentStreak":2,"bestStreak":3}`

func TestResolveLastWriteWins(t *testing.T) {
	r := NewResolver()
	local := Record{UpdatedAt: t100, Payload: json.RawMessage(`{"totalItems":10,"completedItems":0,"correctItems":0,"incorrectItems":0,"skippedItems":0,"accuracy":0,"currentStreak":0,"bestStreak":0}`)}
	remote := Record{UpdatedAt: t200, Payload: json.RawMessage(validStats)}

	t.Run("newer remote wins", func(t *testing.T) {
		winner, err := r.Resolve(review.MutationStatistics, local, remote)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if !winner.UpdatedAt.Equal(t200) {
			t.Errorf("expected remote to win, got updatedAt %v", winner.UpdatedAt)
		}
	})

	t.Run("swapping timestamps flips the winner", func(t *testing.T) {
		winner, err := r.Resolve(review.MutationStatistics,
			Record{UpdatedAt: t200, Payload: remote.Payload},
			Record{UpdatedAt: t100, Payload: local.Payload})
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if !winner.UpdatedAt.Equal(t200) {
			t.Errorf("expected local to win, got updatedAt %v", winner.UpdatedAt)
		}
	})

	t.Run("tie keeps local", func(t *testing.T) {
		winner, err := r.Resolve(review.MutationStatistics,
			Record{UpdatedAt: t100, Payload: json.RawMessage(validStats)},
			Record{UpdatedAt: t100, Payload: remote.Payload})
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if string(winner.Payload) != validStats {
			t.Errorf("expected local payload on tie")
		}
	})
}

func TestResolveValidatesWinner(t *testing.T) {
	r := NewResolver()

	cases := []struct {
		name    string
		payload string
	}{
		{"completed exceeds total", `{"totalItems":5,"completedItems":9,"correctItems":9,"incorrectItems":0,"skippedItems":0,"accuracy":100,"currentStreak":0,"bestStreak":0}`},
		{"accuracy out of range", `{"totalItems":10,"completedItems":5,"correctItems":4,"incorrectItems":1,"skippedItems":0,"accuracy":140,"currentStreak":0,"bestStreak":0}`},
		{"correct plus incorrect mismatch", `{"totalItems":10,"completedItems":5,"correctItems":1,"incorrectItems":1,"skippedItems":0,"accuracy":40,"currentStreak":0,"bestStreak":0}`},
		{"streak above best", `{"totalItems":10,"completedItems":5,"correctItems":4,"incorrectItems":1,"skippedItems":0,"accuracy":80,"currentStreak":5,"bestStreak":2}`},
		{"malformed json", `{"totalItems":`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(review.MutationStatistics,
				Record{UpdatedAt: t100, Payload: json.RawMessage(validStats)},
				Record{UpdatedAt: t200, Payload: json.RawMessage(tc.payload)})
			var cve *review.ConflictValidationError
			if !errors.As(err, &cve) {
				t.Fatalf("expected ConflictValidationError, got %v", err)
			}
		})
	}
}

func TestResolveSessionPayload(t *testing.T) {
	r := NewResolver()

	t.Run("index past end fails", func(t *testing.T) {
		bad := `{"id":"s1","userId":"u1","status":"active","currentIndex":7,"items":[]}`
		_, err := r.Resolve(review.MutationSession,
			Record{UpdatedAt: t200, Payload: json.RawMessage(bad)},
			Record{UpdatedAt: t100, Payload: json.RawMessage(`{}`)})
		var cve *review.ConflictValidationError
		if !errors.As(err, &cve) {
			t.Fatalf("expected ConflictValidationError, got %v", err)
		}
	})

	t.Run("valid session passes", func(t *testing.T) {
		ok := `{"id":"s1","userId":"u1","status":"completed","currentIndex":0,"items":[]}`
		if _, err := r.Resolve(review.MutationSession,
			Record{UpdatedAt: t200, Payload: json.RawMessage(ok)},
			Record{UpdatedAt: t100, Payload: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	})
}

func TestResolveAnswerSkipsValidation(t *testing.T) {
	r := NewResolver()
	// Answer records are append-only; any payload is accepted.
	if _, err := r.Resolve(review.MutationAnswer,
		Record{UpdatedAt: t200, Payload: json.RawMessage(`{"whatever":true}`)},
		Record{UpdatedAt: t100, Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
}
