// Package session orchestrates a single review session: presenting
// items, recording answers, invoking the scheduler, tracking live
// statistics, persisting every state change, and emitting lifecycle
// events. At most one session per user is active at a time; the check
// runs against the durable store, so a second process cannot create a
// conflicting session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/HelyeFab/moshimoshi-sub003/internal/content"
	"github.com/HelyeFab/moshimoshi-sub003/internal/events"
	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
	"github.com/HelyeFab/moshimoshi-sub003/internal/srs"
	"github.com/HelyeFab/moshimoshi-sub003/internal/storage"
)

// Config holds session behavior tunables.
type Config struct {
	// InactivityTimeout auto-pauses an active session after this much
	// time without an operation.
	InactivityTimeout time.Duration `koanf:"inactivity_timeout" validate:"min=1m"`
	// StreakMilestone emits a streak event every Nth consecutive
	// correct answer.
	StreakMilestone int `koanf:"streak_milestone" validate:"min=1"`
	// HintPenalty is subtracted from an item's score per hint used.
	HintPenalty int `koanf:"hint_penalty" validate:"gte=0"`
	// AttemptPenalty is subtracted per attempt beyond the first.
	AttemptPenalty int `koanf:"attempt_penalty" validate:"gte=0"`
}

// DefaultConfig returns the reference session tunables.
func DefaultConfig() Config {
	return Config{
		InactivityTimeout: 30 * time.Minute,
		StreakMilestone:   5,
		HintPenalty:       10,
		AttemptPenalty:    20,
	}
}

// Enqueuer is the slice of the sync queue the manager needs. Remote
// failures never surface here; they are the queue's problem.
type Enqueuer interface {
	Add(ctx context.Context, typ review.MutationType, action review.MutationAction, entityID, userID string, payload any, updatedAt time.Time) error
}

// AnswerOutcome is what SubmitAnswer reports back to the caller.
type AnswerOutcome struct {
	Validation content.Validation
	Result     review.ReviewResult
	SRS        review.SRSData
	State      review.ItemState
}

// Manager runs review sessions. All dependencies are injected at
// construction; there are no package-level singletons.
type Manager struct {
	store     storage.Store
	queue     Enqueuer
	bus       *events.Bus
	validator content.AnswerValidator
	srsCfg    srs.Config
	cfg       Config
	log       *slog.Logger
	clock     func() time.Time

	mu      sync.Mutex
	session *review.ReviewSession
	stats   *review.SessionStatistics
	timer   *time.Timer
}

// NewManager constructs a Manager.
func NewManager(store storage.Store, queue Enqueuer, bus *events.Bus, validator content.AnswerValidator, srsCfg srs.Config, cfg Config, log *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		queue:     queue,
		bus:       bus,
		validator: validator,
		srsCfg:    srsCfg,
		cfg:       cfg,
		log:       log,
		clock:     time.Now,
	}
}

// Start begins a new review session for the user. It fails with
// review.ErrSessionConflict if an active (or paused) session already
// exists, checked against the durable store.
func (m *Manager) Start(ctx context.Context, userID, mode string, items []review.ReviewableContent) (*review.ReviewSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if userID == "" {
		return nil, &review.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if len(items) == 0 {
		return nil, &review.ValidationError{Field: "items", Reason: "session needs at least one item"}
	}
	if m.session != nil && !m.session.Status.Terminal() {
		return nil, review.ErrSessionConflict
	}
	existing, err := m.store.ActiveSessionForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w (session %s)", review.ErrSessionConflict, existing.ID)
	}

	now := m.clock()
	sess := &review.ReviewSession{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Mode:      mode,
		Status:    review.StatusStarting,
		StartedAt: now,
		UpdatedAt: now,
	}
	for _, item := range items {
		sess.Items = append(sess.Items, review.ReviewSessionItem{Content: item})
	}
	stats := &review.SessionStatistics{
		SessionID:     sess.ID,
		UserID:        userID,
		TotalItems:    len(items),
		PerDifficulty: make(map[string]review.BucketStats),
		UpdatedAt:     now,
	}

	sess.Status = review.StatusActive
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := m.store.SaveStatistics(ctx, stats); err != nil {
		return nil, err
	}
	if err := m.queue.Add(ctx, review.MutationSession, review.ActionCreate, sess.ID, userID, sess, now); err != nil {
		return nil, err
	}

	m.session = sess
	m.stats = stats
	m.resetTimerLocked()

	m.log.Info("session started", "session_id", sess.ID, "user_id", userID, "mode", mode, "items", len(items))
	events.Publish(m.bus, events.SessionStarted{
		SessionID: sess.ID,
		UserID:    userID,
		Mode:      mode,
		ItemCount: len(items),
		StartedAt: now,
	})
	return sess, nil
}

// Recover adopts a store-resident active or paused session, such as
// one left behind by a crash or a previous process. The adopted
// session can then be resumed, continued, or abandoned like any other.
// Returns ErrNoActiveSession when the store holds none for the user.
func (m *Manager) Recover(ctx context.Context, userID string) (*review.ReviewSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && !m.session.Status.Terminal() {
		return nil, review.ErrSessionConflict
	}
	sess, err := m.store.ActiveSessionForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, review.ErrNoActiveSession
	}

	stats, err := m.store.GetStatistics(ctx, sess.ID)
	if err != nil {
		if !errors.Is(err, review.ErrNotFound) {
			return nil, err
		}
		// A crash between the session and statistics writes can leave
		// the statistics row missing; rebuild it from the items.
		stats = Recompute(sess)
		if err := m.store.SaveStatistics(ctx, stats); err != nil {
			return nil, err
		}
	}

	m.session = sess
	m.stats = stats
	if sess.Status == review.StatusActive {
		m.resetTimerLocked()
	}
	m.log.Info("session recovered", "session_id", sess.ID, "user_id", userID, "status", sess.Status)
	return sess, nil
}

// CurrentItem returns the item at the session cursor, or (nil, nil)
// once the session is exhausted (which completes it). The first access
// to an item stamps its presentation time and emits an item-presented
// event exactly once.
func (m *Manager) CurrentItem(ctx context.Context) (*review.ReviewSessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentItemLocked(ctx)
}

func (m *Manager) currentItemLocked(ctx context.Context) (*review.ReviewSessionItem, error) {
	if err := m.requireActiveLocked(); err != nil {
		return nil, err
	}
	sess := m.session
	if sess.CurrentIndex >= len(sess.Items) {
		if err := m.completeLocked(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}

	item := &sess.Items[sess.CurrentIndex]
	if item.PresentedAt == nil {
		now := m.clock()
		item.PresentedAt = &now
		if err := m.persistItemsLocked(ctx); err != nil {
			return nil, err
		}
		events.Publish(m.bus, events.ItemPresented{
			SessionID:   sess.ID,
			ItemID:      item.Content.ID,
			Index:       sess.CurrentIndex,
			PresentedAt: now,
		})
	}
	m.resetTimerLocked()

	out := *item
	return &out, nil
}

// SubmitAnswer records an answer for the current item: validates it,
// runs the scheduler, updates statistics, persists everything, and
// queues the remote mutations. Sync failures never surface here.
func (m *Manager) SubmitAnswer(ctx context.Context, answer string, confidence int) (*AnswerOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireActiveLocked(); err != nil {
		return nil, err
	}
	sess := m.session
	if sess.CurrentIndex >= len(sess.Items) {
		return nil, &review.ValidationError{Field: "currentIndex", Reason: "session has no remaining items"}
	}
	if confidence != 0 && (confidence < 1 || confidence > 5) {
		return nil, &review.ValidationError{Field: "confidence", Reason: "must be 1-5"}
	}

	now := m.clock()
	item := &sess.Items[sess.CurrentIndex]
	if item.PresentedAt == nil {
		item.PresentedAt = &now
	}
	retry := item.Answered()
	if retry && item.Correct {
		return nil, &review.ValidationError{Field: "item", Reason: "already answered correctly"}
	}

	validation := m.validator.Validate(item.Content, answer)

	item.Attempts++
	item.UserAnswer = answer
	item.Correct = validation.Correct
	item.AnsweredAt = &now
	responseMs := now.Sub(*item.PresentedAt).Milliseconds()
	item.BaseScore = 0
	if validation.Correct {
		item.BaseScore = 100
	}
	item.FinalScore = item.BaseScore - item.HintsUsed*m.cfg.HintPenalty - (item.Attempts-1)*m.cfg.AttemptPenalty
	if item.FinalScore < 0 {
		item.FinalScore = 0
	}

	result := review.ReviewResult{
		Correct:    validation.Correct,
		ResponseMs: responseMs,
		Confidence: confidence,
	}

	// The first answer drives scheduling and history; a retry after an
	// incorrect answer only amends the item and the session counts.
	var next review.SRSData
	if retry {
		stored, err := m.store.GetSRSData(ctx, sess.UserID, item.Content.ID)
		if err != nil {
			return nil, err
		}
		next = *stored
		applyRetry(m.stats, item.Content.DifficultyBucket(), validation.Correct, now)
	} else {
		current, err := m.store.GetSRSData(ctx, sess.UserID, item.Content.ID)
		if err != nil {
			if !errors.Is(err, review.ErrNotFound) {
				return nil, err
			}
			fresh := srs.New(sess.UserID, item.Content.ID, now)
			current = &fresh
		}
		next = srs.Calculate(m.srsCfg, *current, result, now)
		if err := m.store.SaveSRSData(ctx, next); err != nil {
			return nil, err
		}

		record := review.ReviewRecord{
			ID:         ulid.Make().String(),
			UserID:     sess.UserID,
			ItemID:     item.Content.ID,
			SessionID:  sess.ID,
			Correct:    validation.Correct,
			Quality:    srs.Quality(m.srsCfg, result, current.AvgResponseMs),
			Interval:   next.Interval,
			EaseFactor: next.EaseFactor,
			ReviewedAt: now,
		}
		if err := m.store.AppendReview(ctx, record); err != nil {
			return nil, err
		}
		applyAnswer(m.stats, item.Content.DifficultyBucket(), validation.Correct, responseMs, now)

		if err := m.enqueue(ctx, review.MutationAnswer, review.ActionCreate, record.ID, record, now); err != nil {
			return nil, err
		}
		if err := m.enqueue(ctx, review.MutationProgress, review.ActionUpdate, sess.UserID+"/"+item.Content.ID, next, now); err != nil {
			return nil, err
		}
	}

	if err := m.persistItemsLocked(ctx); err != nil {
		return nil, err
	}
	if err := m.store.SaveStatistics(ctx, m.stats); err != nil {
		return nil, err
	}
	if err := m.enqueue(ctx, review.MutationStatistics, review.ActionUpdate, sess.ID, m.stats, now); err != nil {
		return nil, err
	}

	events.Publish(m.bus, events.ItemAnswered{
		SessionID:  sess.ID,
		ItemID:     item.Content.ID,
		Correct:    validation.Correct,
		Attempts:   item.Attempts,
		ResponseMs: responseMs,
		AnsweredAt: now,
	})
	if validation.Correct && m.stats.CurrentStreak > 0 && m.stats.CurrentStreak%m.cfg.StreakMilestone == 0 {
		events.Publish(m.bus, events.StreakMilestone{
			SessionID: sess.ID,
			UserID:    sess.UserID,
			Streak:    m.stats.CurrentStreak,
		})
	}

	m.resetTimerLocked()
	m.log.Debug("answer recorded",
		"session_id", sess.ID, "item_id", item.Content.ID,
		"correct", validation.Correct, "response_ms", responseMs)

	return &AnswerOutcome{
		Validation: validation,
		Result:     result,
		SRS:        next,
		State:      srs.Classify(m.srsCfg, next),
	}, nil
}

// NextItem advances the cursor. Past the last item it completes the
// session and returns (nil, nil).
func (m *Manager) NextItem(ctx context.Context) (*review.ReviewSessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireActiveLocked(); err != nil {
		return nil, err
	}
	return m.advanceLocked(ctx)
}

func (m *Manager) advanceLocked(ctx context.Context) (*review.ReviewSessionItem, error) {
	sess := m.session
	sess.CurrentIndex++
	idx := sess.CurrentIndex
	if err := m.store.UpdateSession(ctx, sess.ID, storage.SessionUpdate{
		CurrentIndex: &idx,
		UpdatedAt:    m.clock(),
	}); err != nil {
		return nil, err
	}

	if sess.CurrentIndex >= len(sess.Items) {
		if err := m.completeLocked(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}

	events.Publish(m.bus, events.ProgressUpdated{
		SessionID: sess.ID,
		Current:   sess.CurrentIndex,
		Total:     m.stats.TotalItems,
		Completed: m.stats.CompletedItems,
		Skipped:   m.stats.SkippedItems,
	})
	return m.currentItemLocked(ctx)
}

// SkipItem marks the current item skipped and advances. Skips count
// toward skippedItems, never toward accuracy.
func (m *Manager) SkipItem(ctx context.Context) (*review.ReviewSessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireActiveLocked(); err != nil {
		return nil, err
	}
	sess := m.session
	if sess.CurrentIndex >= len(sess.Items) {
		return nil, &review.ValidationError{Field: "currentIndex", Reason: "session has no remaining items"}
	}

	now := m.clock()
	item := &sess.Items[sess.CurrentIndex]
	// An answered item already counts as completed; letting it also
	// count as skipped would double it in the totals. Answered items
	// advance, they do not skip.
	if item.Answered() {
		return nil, &review.ValidationError{Field: "item", Reason: "item is already answered; advance to the next item"}
	}
	item.Skipped = true
	applySkip(m.stats, now)

	if err := m.persistItemsLocked(ctx); err != nil {
		return nil, err
	}
	if err := m.store.SaveStatistics(ctx, m.stats); err != nil {
		return nil, err
	}
	if err := m.enqueue(ctx, review.MutationStatistics, review.ActionUpdate, sess.ID, m.stats, now); err != nil {
		return nil, err
	}

	events.Publish(m.bus, events.ItemSkipped{
		SessionID: sess.ID,
		ItemID:    item.Content.ID,
		SkippedAt: now,
	})
	m.resetTimerLocked()
	return m.advanceLocked(ctx)
}

// UseHint reveals the next hint for the current item, cycling to the
// last hint once exhausted rather than erroring. Items without hints
// return an empty string.
func (m *Manager) UseHint(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireActiveLocked(); err != nil {
		return "", err
	}
	sess := m.session
	if sess.CurrentIndex >= len(sess.Items) {
		return "", &review.ValidationError{Field: "currentIndex", Reason: "session has no remaining items"}
	}

	item := &sess.Items[sess.CurrentIndex]
	hints := item.Content.Hints
	if len(hints) == 0 {
		return "", nil
	}

	item.HintsUsed++
	idx := item.HintsUsed - 1
	if idx >= len(hints) {
		idx = len(hints) - 1
	}
	if err := m.persistItemsLocked(ctx); err != nil {
		return "", err
	}

	events.Publish(m.bus, events.HintUsed{
		SessionID: sess.ID,
		ItemID:    item.Content.ID,
		HintsUsed: item.HintsUsed,
	})
	m.resetTimerLocked()
	return hints[idx], nil
}

// Pause pauses an active session. No statistics side effects.
func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseLocked(ctx)
}

func (m *Manager) pauseLocked(ctx context.Context) error {
	if m.session == nil {
		return review.ErrNoActiveSession
	}
	if m.session.Status != review.StatusActive {
		return &review.ValidationError{Field: "status", Reason: fmt.Sprintf("cannot pause a %s session", m.session.Status)}
	}

	now := m.clock()
	status := review.StatusPaused
	if err := m.store.UpdateSession(ctx, m.session.ID, storage.SessionUpdate{
		Status:    &status,
		PausedAt:  &now,
		UpdatedAt: now,
	}); err != nil {
		return err
	}
	m.session.Status = status
	m.session.PausedAt = &now
	m.stopTimerLocked()

	events.Publish(m.bus, events.SessionPaused{SessionID: m.session.ID, PausedAt: now})
	return nil
}

// Resume resumes a paused session and restarts the inactivity timer.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return review.ErrNoActiveSession
	}
	if m.session.Status != review.StatusPaused {
		return &review.ValidationError{Field: "status", Reason: fmt.Sprintf("cannot resume a %s session", m.session.Status)}
	}

	now := m.clock()
	status := review.StatusActive
	if err := m.store.UpdateSession(ctx, m.session.ID, storage.SessionUpdate{
		Status:      &status,
		ClearPaused: true,
		UpdatedAt:   now,
	}); err != nil {
		return err
	}
	m.session.Status = status
	m.session.PausedAt = nil
	m.resetTimerLocked()

	events.Publish(m.bus, events.SessionResumed{SessionID: m.session.ID, ResumedAt: now})
	return nil
}

// Complete finalizes the session and clears in-memory state so a new
// session may start.
func (m *Manager) Complete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.session.Status != review.StatusActive {
		return review.ErrNoActiveSession
	}
	return m.completeLocked(ctx)
}

func (m *Manager) completeLocked(ctx context.Context) error {
	sess := m.session
	now := m.clock()

	sess.Status = review.StatusCompleting
	m.stats.UpdatedAt = now

	status := review.StatusCompleted
	if err := m.store.UpdateSession(ctx, sess.ID, storage.SessionUpdate{
		Status:    &status,
		Items:     sess.Items,
		EndedAt:   &now,
		UpdatedAt: now,
	}); err != nil {
		sess.Status = review.StatusActive
		return err
	}
	if err := m.store.SaveStatistics(ctx, m.stats); err != nil {
		return err
	}
	sess.Status = status
	sess.EndedAt = &now

	if err := m.enqueue(ctx, review.MutationSession, review.ActionUpdate, sess.ID, sess, now); err != nil {
		return err
	}
	if err := m.enqueue(ctx, review.MutationStatistics, review.ActionUpdate, sess.ID, m.stats, now); err != nil {
		return err
	}

	m.stopTimerLocked()
	m.log.Info("session completed",
		"session_id", sess.ID, "user_id", sess.UserID,
		"accuracy", m.stats.Accuracy, "completed", m.stats.CompletedItems, "skipped", m.stats.SkippedItems)
	events.Publish(m.bus, events.SessionCompleted{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Accuracy:  m.stats.Accuracy,
		Completed: m.stats.CompletedItems,
		Skipped:   m.stats.SkippedItems,
		Duration:  now.Sub(sess.StartedAt),
		EndedAt:   now,
	})

	m.session = nil
	m.stats = nil
	return nil
}

// Abandon marks an active or paused session abandoned. Abandoned
// sessions are archived, not deleted, and are distinguished from
// completed ones so analytics do not count them as finished reviews.
func (m *Manager) Abandon(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return review.ErrNoActiveSession
	}
	if m.session.Status != review.StatusActive && m.session.Status != review.StatusPaused {
		return &review.ValidationError{Field: "status", Reason: fmt.Sprintf("cannot abandon a %s session", m.session.Status)}
	}

	sess := m.session
	now := m.clock()
	status := review.StatusAbandoned
	if err := m.store.UpdateSession(ctx, sess.ID, storage.SessionUpdate{
		Status:    &status,
		Items:     sess.Items,
		EndedAt:   &now,
		UpdatedAt: now,
	}); err != nil {
		return err
	}
	sess.Status = status
	sess.EndedAt = &now

	if err := m.enqueue(ctx, review.MutationSession, review.ActionUpdate, sess.ID, sess, now); err != nil {
		return err
	}

	m.stopTimerLocked()
	m.log.Info("session abandoned", "session_id", sess.ID, "user_id", sess.UserID)
	events.Publish(m.bus, events.SessionAbandoned{SessionID: sess.ID, UserID: sess.UserID, EndedAt: now})

	m.session = nil
	m.stats = nil
	return nil
}

// Statistics returns a snapshot of the live session statistics.
func (m *Manager) Statistics() (*review.SessionStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats == nil {
		return nil, review.ErrNoActiveSession
	}
	out := *m.stats
	return &out, nil
}

func (m *Manager) requireActiveLocked() error {
	if m.session == nil || m.session.Status != review.StatusActive {
		return review.ErrNoActiveSession
	}
	return nil
}

func (m *Manager) persistItemsLocked(ctx context.Context) error {
	return m.store.UpdateSession(ctx, m.session.ID, storage.SessionUpdate{
		Items:     m.session.Items,
		UpdatedAt: m.clock(),
	})
}

// enqueue hands a mutation to the sync queue. Add persists to the
// local store, so a failure here is a storage failure and must surface
// immediately; a mutation that never reaches the queue would be
// silently dropped.
func (m *Manager) enqueue(ctx context.Context, typ review.MutationType, action review.MutationAction, entityID string, payload any, now time.Time) error {
	userID := ""
	if m.session != nil {
		userID = m.session.UserID
	}
	return m.queue.Add(ctx, typ, action, entityID, userID, payload, now)
}

func (m *Manager) resetTimerLocked() {
	m.stopTimerLocked()
	if m.cfg.InactivityTimeout <= 0 {
		return
	}
	m.timer = time.AfterFunc(m.cfg.InactivityTimeout, m.autoPause)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// autoPause fires from the inactivity timer.
func (m *Manager) autoPause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.Status != review.StatusActive {
		return
	}
	m.log.Info("session auto-paused after inactivity", "session_id", m.session.ID)
	if err := m.pauseLocked(context.Background()); err != nil {
		m.log.Warn("auto-pause failed", "session_id", m.session.ID, "error", err)
	}
}
