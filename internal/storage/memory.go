package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
)

// MemoryStore is an in-memory Store for tests. It satisfies the same
// contract as SQLiteStore minus restart durability.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]review.ReviewSession
	statistics  map[string]review.SessionStatistics
	srs         map[string]review.SRSData // key: userID + "/" + itemID
	reviews     []review.ReviewRecord
	queue       []review.SyncMutation
	deadLetters []review.SyncMutation
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]review.ReviewSession),
		statistics: make(map[string]review.SessionStatistics),
		srs:        make(map[string]review.SRSData),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) SaveSession(_ context.Context, sess *review.ReviewSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = cloneSession(*sess)
	return nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, id string, upd SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("update session %s: %w", id, review.ErrNotFound)
	}
	if upd.Status != nil {
		sess.Status = *upd.Status
	}
	if upd.CurrentIndex != nil {
		sess.CurrentIndex = *upd.CurrentIndex
	}
	if upd.Items != nil {
		sess.Items = append([]review.ReviewSessionItem(nil), upd.Items...)
	}
	if upd.PausedAt != nil {
		t := *upd.PausedAt
		sess.PausedAt = &t
	} else if upd.ClearPaused {
		sess.PausedAt = nil
	}
	if upd.EndedAt != nil {
		t := *upd.EndedAt
		sess.EndedAt = &t
	}
	sess.UpdatedAt = upd.UpdatedAt
	s.sessions[id] = sess
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*review.ReviewSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, review.ErrNotFound)
	}
	out := cloneSession(sess)
	return &out, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.statistics, id)
	return nil
}

func (s *MemoryStore) ActiveSessionForUser(_ context.Context, userID string) (*review.ReviewSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.UserID == userID && (sess.Status == review.StatusActive || sess.Status == review.StatusPaused) {
			out := cloneSession(sess)
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) SessionsForUser(_ context.Context, userID string) ([]review.ReviewSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []review.ReviewSession
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, cloneSession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) SaveStatistics(_ context.Context, st *review.SessionStatistics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statistics[st.SessionID] = cloneStatistics(*st)
	return nil
}

func (s *MemoryStore) GetStatistics(_ context.Context, sessionID string) (*review.SessionStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statistics[sessionID]
	if !ok {
		return nil, fmt.Errorf("statistics for %s: %w", sessionID, review.ErrNotFound)
	}
	out := cloneStatistics(st)
	return &out, nil
}

func (s *MemoryStore) SaveSRSData(_ context.Context, d review.SRSData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.srs[d.UserID+"/"+d.ItemID] = d
	return nil
}

func (s *MemoryStore) GetSRSData(_ context.Context, userID, itemID string) (*review.SRSData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.srs[userID+"/"+itemID]
	if !ok {
		return nil, fmt.Errorf("srs data for %s/%s: %w", userID, itemID, review.ErrNotFound)
	}
	return &d, nil
}

func (s *MemoryStore) QueryDue(_ context.Context, userID string, before time.Time) ([]review.SRSData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []review.SRSData
	for _, d := range s.srs {
		if d.UserID == userID && !d.NextReviewAt.After(before) {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextReviewAt.Before(due[j].NextReviewAt) })
	return due, nil
}

func (s *MemoryStore) AppendReview(_ context.Context, r review.ReviewRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews = append(s.reviews, r)
	return nil
}

func (s *MemoryStore) EnqueueMutation(_ context.Context, m review.SyncMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, m)
	return nil
}

func (s *MemoryStore) PendingMutations(_ context.Context) ([]review.SyncMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]review.SyncMutation(nil), s.queue...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateMutation(_ context.Context, m review.SyncMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].ID == m.ID {
			s.queue[i] = m
			return nil
		}
	}
	return fmt.Errorf("update mutation %s: %w", m.ID, review.ErrNotFound)
}

func (s *MemoryStore) DeleteMutation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) MoveToDeadLetter(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].ID == id {
			m := s.queue[i]
			m.LastError = reason
			s.deadLetters = append(s.deadLetters, m)
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("dead-letter mutation %s: %w", id, review.ErrNotFound)
}

func (s *MemoryStore) DeadLetters(_ context.Context) ([]review.SyncMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]review.SyncMutation(nil), s.deadLetters...), nil
}

func (s *MemoryStore) QueueStatus(_ context.Context) (QueueStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := QueueStatus{Pending: len(s.queue), DeadLettered: len(s.deadLetters)}
	st.Total = st.Pending + st.DeadLettered
	return st, nil
}

func (s *MemoryStore) Cleanup(_ context.Context, maxAgeDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	var pruned int64
	for id, sess := range s.sessions {
		if sess.Status.Terminal() && sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.statistics, id)
			pruned++
		}
	}
	kept := s.reviews[:0]
	for _, r := range s.reviews {
		if !r.ReviewedAt.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	s.reviews = kept
	return pruned, nil
}

func cloneSession(sess review.ReviewSession) review.ReviewSession {
	sess.Items = append([]review.ReviewSessionItem(nil), sess.Items...)
	if sess.PausedAt != nil {
		t := *sess.PausedAt
		sess.PausedAt = &t
	}
	if sess.EndedAt != nil {
		t := *sess.EndedAt
		sess.EndedAt = &t
	}
	return sess
}

func cloneStatistics(st review.SessionStatistics) review.SessionStatistics {
	if st.PerDifficulty != nil {
		buckets := make(map[string]review.BucketStats, len(st.PerDifficulty))
		for k, v := range st.PerDifficulty {
			buckets[k] = v
		}
		st.PerDifficulty = buckets
	}
	return st
}
