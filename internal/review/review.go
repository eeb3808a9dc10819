// Package review holds the domain model for the review engine:
// reviewable content, per-item scheduling state, sessions, statistics,
// and the pending-mutation record used by the sync queue.
package review

import (
	"encoding/json"
	"time"
)

// ReviewableContent is a content-agnostic unit to be learned. It is
// produced by a content adapter and consumed read-only by the engine.
type ReviewableContent struct {
	ID          string `json:"id"`
	ContentType string `json:"contentType"`

	Primary   string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
	Tertiary  string `json:"tertiary,omitempty"`
	AudioURL  string `json:"audioUrl,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`

	PrimaryAnswer      string   `json:"primaryAnswer"`
	AlternativeAnswers []string `json:"alternativeAnswers,omitempty"`

	// Difficulty is a static score in [0,1] assigned by the adapter.
	Difficulty     float64  `json:"difficulty"`
	Tags           []string `json:"tags,omitempty"`
	SupportedModes []string `json:"supportedModes,omitempty"`
	Hints          []string `json:"hints,omitempty"`
}

// DifficultyBucket maps the static difficulty score onto the bucket
// used for per-difficulty statistics.
func (c ReviewableContent) DifficultyBucket() string {
	switch {
	case c.Difficulty < 0.34:
		return "easy"
	case c.Difficulty < 0.67:
		return "medium"
	default:
		return "hard"
	}
}

// SRSData is the scheduling state attached to a (user, item) pair.
type SRSData struct {
	UserID string `json:"userId"`
	ItemID string `json:"itemId"`

	Interval    int     `json:"interval"` // days until next review
	EaseFactor  float64 `json:"easeFactor"`
	Repetitions int     `json:"repetitions"`

	LastReviewedAt *time.Time `json:"lastReviewedAt,omitempty"`
	NextReviewAt   time.Time  `json:"nextReviewAt"`

	// AvgResponseMs is a rolling average of response times, used by
	// the scheduler's slow-response modifier.
	AvgResponseMs float64 `json:"avgResponseMs"`

	// RecentResults is the outcome window for the mastery accuracy
	// check, newest last: '1' correct, '0' incorrect. Capped at
	// RecentWindow entries.
	RecentResults string `json:"recentResults"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// RecentWindow is the number of outcomes retained in RecentResults.
const RecentWindow = 10

// RecentAccuracy returns the fraction of correct answers in the
// outcome window, or 1 if the item has never been answered.
func (d SRSData) RecentAccuracy() float64 {
	if len(d.RecentResults) == 0 {
		return 1
	}
	correct := 0
	for _, r := range d.RecentResults {
		if r == '1' {
			correct++
		}
	}
	return float64(correct) / float64(len(d.RecentResults))
}

// IsDue reports whether the item is due at the given time, compared on
// UTC calendar days so timezone shifts cannot flip due status.
func (d SRSData) IsDue(now time.Time) bool {
	day := func(t time.Time) time.Time {
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return !day(now).Before(day(d.NextReviewAt))
}

// ReviewResult is the outcome of a single answer. Produced by the UI,
// consumed once by the session manager and the scheduler.
type ReviewResult struct {
	Correct    bool  `json:"correct"`
	ResponseMs int64 `json:"responseTime"`
	Confidence int   `json:"confidence,omitempty"` // 1-5, 0 when not reported
}

// ReviewSessionItem wraps one piece of content for the duration of a
// session. Mutated only by the session manager.
type ReviewSessionItem struct {
	Content ReviewableContent `json:"content"`

	PresentedAt *time.Time `json:"presentedAt,omitempty"`
	AnsweredAt  *time.Time `json:"answeredAt,omitempty"`

	UserAnswer string `json:"userAnswer,omitempty"`
	Correct    bool   `json:"correct"`
	Skipped    bool   `json:"skipped"`
	Attempts   int    `json:"attempts"`
	HintsUsed  int    `json:"hintsUsed"`
	BaseScore  int    `json:"baseScore"`  // 0-100
	FinalScore int    `json:"finalScore"` // 0-100, after hint/attempt penalties
}

// Answered reports whether the item has been answered (not skipped).
func (i ReviewSessionItem) Answered() bool {
	return i.AnsweredAt != nil && !i.Skipped
}

// ReviewSession is the aggregate root for one review run.
type ReviewSession struct {
	ID           string              `json:"id"`
	UserID       string              `json:"userId"`
	Items        []ReviewSessionItem `json:"items"`
	CurrentIndex int                 `json:"currentIndex"`
	Mode         string              `json:"mode"`
	Status       SessionStatus       `json:"status"`

	StartedAt time.Time  `json:"startedAt"`
	PausedAt  *time.Time `json:"pausedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// BucketStats is per-difficulty-bucket performance.
type BucketStats struct {
	Completed int `json:"completed"`
	Correct   int `json:"correct"`
}

// SessionStatistics is the derived aggregate for a session, updated
// incrementally after every answer.
type SessionStatistics struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`

	TotalItems     int `json:"totalItems"`
	CompletedItems int `json:"completedItems"`
	CorrectItems   int `json:"correctItems"`
	IncorrectItems int `json:"incorrectItems"`
	SkippedItems   int `json:"skippedItems"`

	Accuracy      float64 `json:"accuracy"` // 0-100
	AvgResponseMs float64 `json:"avgResponseMs"`

	CurrentStreak int `json:"currentStreak"`
	BestStreak    int `json:"bestStreak"`

	PerDifficulty map[string]BucketStats `json:"perDifficulty,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// ReviewRecord is one durable entry in the per-answer history log.
type ReviewRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ItemID     string    `json:"itemId"`
	SessionID  string    `json:"sessionId"`
	Correct    bool      `json:"correct"`
	Quality    float64   `json:"quality"`
	Interval   int       `json:"interval"`
	EaseFactor float64   `json:"easeFactor"`
	ReviewedAt time.Time `json:"reviewedAt"`
}

// MutationType tags what entity a queued mutation targets.
type MutationType string

const (
	MutationSession    MutationType = "session"
	MutationAnswer     MutationType = "answer"
	MutationStatistics MutationType = "statistics"
	MutationProgress   MutationType = "progress"
)

// MutationAction is the remote operation a queued mutation performs.
type MutationAction string

const (
	ActionCreate MutationAction = "create"
	ActionUpdate MutationAction = "update"
)

// SyncMutation is a durable, ordered record of a pending remote write.
// IDs are ULIDs, so lexicographic order is insertion order.
type SyncMutation struct {
	ID       string          `json:"id"`
	Type     MutationType    `json:"type"`
	Action   MutationAction  `json:"action"`
	EntityID string          `json:"entityId"`
	UserID   string          `json:"userId"`
	Payload  json.RawMessage `json:"payload"`

	Attempts    int       `json:"attempts"`
	LastError   string    `json:"lastError,omitempty"`
	NextRetryAt time.Time `json:"nextRetryAt"`

	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is the local modification time baked into the
	// mutation; conflict detection compares it against the remote
	// record's updatedAt.
	UpdatedAt time.Time `json:"updatedAt"`
}
