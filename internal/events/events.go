// Package events provides the typed publish/subscribe bus the review
// engine emits its lifecycle events on. Every event is a distinct
// payload struct, so subscribers get compile-time guarantees instead
// of a string-keyed emitter.
package events

import (
	"reflect"
	"sync"
	"time"
)

// SessionStarted is emitted once when a review session begins.
type SessionStarted struct {
	SessionID string
	UserID    string
	Mode      string
	ItemCount int
	StartedAt time.Time
}

// ItemPresented is emitted exactly once per item, on first access.
type ItemPresented struct {
	SessionID   string
	ItemID      string
	Index       int
	PresentedAt time.Time
}

// ItemAnswered is emitted after every recorded answer.
type ItemAnswered struct {
	SessionID  string
	ItemID     string
	Correct    bool
	Attempts   int
	ResponseMs int64
	AnsweredAt time.Time
}

// ItemSkipped is emitted when an item is skipped.
type ItemSkipped struct {
	SessionID string
	ItemID    string
	SkippedAt time.Time
}

// HintUsed is emitted each time a hint is revealed.
type HintUsed struct {
	SessionID string
	ItemID    string
	HintsUsed int
}

// ProgressUpdated is emitted as the session advances through items.
type ProgressUpdated struct {
	SessionID string
	Current   int
	Total     int
	Completed int
	Skipped   int
}

// StreakMilestone is emitted at every streak milestone (distinct from
// ItemAnswered so gamification collaborators can subscribe
// selectively).
type StreakMilestone struct {
	SessionID string
	UserID    string
	Streak    int
}

// SessionPaused is emitted when a session pauses, including auto-pause
// on inactivity.
type SessionPaused struct {
	SessionID string
	PausedAt  time.Time
}

// SessionResumed is emitted when a paused session resumes.
type SessionResumed struct {
	SessionID string
	ResumedAt time.Time
}

// SessionCompleted is emitted once when a session finishes all items.
type SessionCompleted struct {
	SessionID string
	UserID    string
	Accuracy  float64
	Completed int
	Skipped   int
	Duration  time.Duration
	EndedAt   time.Time
}

// SessionAbandoned is emitted when a session is abandoned, so
// analytics do not count it as a finished review.
type SessionAbandoned struct {
	SessionID string
	UserID    string
	EndedAt   time.Time
}

// SyncFailed is emitted when a mutation exhausts its retries and is
// dead-lettered; the UI should surface a needs-attention indicator.
type SyncFailed struct {
	MutationID string
	Type       string
	EntityID   string
	Attempts   int
	LastError  string
}

// Bus is a synchronous in-process event bus. Dispatch runs handlers on
// the publishing goroutine in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]any
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[reflect.Type][]any)}
}

// Subscribe registers fn for events of type E.
func Subscribe[E any](b *Bus, fn func(E)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := reflect.TypeOf((*E)(nil)).Elem()
	b.handlers[t] = append(b.handlers[t], fn)
}

// Publish delivers e to every subscriber of its type.
func Publish[E any](b *Bus, e E) {
	b.mu.RLock()
	subs := b.handlers[reflect.TypeOf((*E)(nil)).Elem()]
	b.mu.RUnlock()
	for _, h := range subs {
		h.(func(E))(e)
	}
}
