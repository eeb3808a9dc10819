package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
)

var storeNow = time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := Open(filepath.Join(t.TempDir(), "moshi.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func testSession(id, userID string, status review.SessionStatus) *review.ReviewSession {
	return &review.ReviewSession{
		ID:     id,
		UserID: userID,
		Mode:   "recall",
		Status: status,
		Items: []review.ReviewSessionItem{
			{Content: review.ReviewableContent{ID: "item-1", Primary: "ねこ", PrimaryAnswer: "cat"}},
			{Content: review.ReviewableContent{ID: "item-2", Primary: "いぬ", PrimaryAnswer: "dog"}},
		},
		StartedAt: storeNow,
		UpdatedAt: storeNow,
	}
}

func TestSessionRoundTrip(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := testSession("sess-1", "user-1", review.StatusActive)
			if err := store.SaveSession(ctx, sess); err != nil {
				t.Fatalf("save: %v", err)
			}

			got, err := store.GetSession(ctx, "sess-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != review.StatusActive || len(got.Items) != 2 || got.Items[0].Content.PrimaryAnswer != "cat" {
				t.Errorf("round trip mangled session: %+v", got)
			}

			_, err = store.GetSession(ctx, "missing")
			if !errors.Is(err, review.ErrNotFound) {
				t.Errorf("expected ErrNotFound for missing session, got %v", err)
			}
		})
	}
}

func TestPartialSessionUpdate(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.SaveSession(ctx, testSession("sess-1", "user-1", review.StatusActive)); err != nil {
				t.Fatalf("save: %v", err)
			}

			idx := 1
			if err := store.UpdateSession(ctx, "sess-1", SessionUpdate{
				CurrentIndex: &idx,
				UpdatedAt:    storeNow.Add(time.Minute),
			}); err != nil {
				t.Fatalf("update: %v", err)
			}

			got, err := store.GetSession(ctx, "sess-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.CurrentIndex != 1 {
				t.Errorf("expected index 1, got %d", got.CurrentIndex)
			}
			// Untouched fields survive the partial update.
			if got.Status != review.StatusActive || len(got.Items) != 2 || got.Mode != "recall" {
				t.Errorf("partial update clobbered untouched fields: %+v", got)
			}
		})
	}
}

func TestActiveSessionForUser(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := store.ActiveSessionForUser(ctx, "user-1")
			if err != nil || got != nil {
				t.Fatalf("expected no active session, got %v, %v", got, err)
			}

			if err := store.SaveSession(ctx, testSession("sess-done", "user-1", review.StatusCompleted)); err != nil {
				t.Fatal(err)
			}
			if err := store.SaveSession(ctx, testSession("sess-live", "user-1", review.StatusPaused)); err != nil {
				t.Fatal(err)
			}

			got, err = store.ActiveSessionForUser(ctx, "user-1")
			if err != nil {
				t.Fatalf("active lookup: %v", err)
			}
			if got == nil || got.ID != "sess-live" {
				t.Errorf("expected paused session to count as live, got %+v", got)
			}
		})
	}
}

func TestQueryDue(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			save := func(itemID string, due time.Time) {
				t.Helper()
				if err := store.SaveSRSData(ctx, review.SRSData{
					UserID: "user-1", ItemID: itemID,
					EaseFactor: 2.5, NextReviewAt: due, UpdatedAt: storeNow,
				}); err != nil {
					t.Fatal(err)
				}
			}
			save("overdue", storeNow.AddDate(0, 0, -3))
			save("today", storeNow)
			save("tomorrow", storeNow.AddDate(0, 0, 1))

			due, err := store.QueryDue(ctx, "user-1", storeNow)
			if err != nil {
				t.Fatalf("query due: %v", err)
			}
			if len(due) != 2 {
				t.Fatalf("expected 2 due items, got %d", len(due))
			}
			if due[0].ItemID != "overdue" || due[1].ItemID != "today" {
				t.Errorf("expected soonest-first order, got %s, %s", due[0].ItemID, due[1].ItemID)
			}
		})
	}
}

func testMutation(id string) review.SyncMutation {
	return review.SyncMutation{
		ID:        id,
		Type:      review.MutationStatistics,
		Action:    review.ActionUpdate,
		EntityID:  "sess-1",
		UserID:    "user-1",
		Payload:   json.RawMessage(`{"accuracy":80}`),
		CreatedAt: storeNow,
		UpdatedAt: storeNow,
	}
}

func TestQueueFIFOAndDeadLetter(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"01AAA", "01BBB", "01CCC"} {
				if err := store.EnqueueMutation(ctx, testMutation(id)); err != nil {
					t.Fatal(err)
				}
			}

			pending, err := store.PendingMutations(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(pending) != 3 || pending[0].ID != "01AAA" || pending[2].ID != "01CCC" {
				t.Fatalf("expected FIFO order, got %+v", pending)
			}

			if err := store.MoveToDeadLetter(ctx, "01AAA", "remote rejected"); err != nil {
				t.Fatalf("dead letter: %v", err)
			}
			st, err := store.QueueStatus(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if st.Pending != 2 || st.DeadLettered != 1 || st.Total != 3 {
				t.Errorf("unexpected queue status: %+v", st)
			}

			dead, err := store.DeadLetters(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(dead) != 1 || dead[0].ID != "01AAA" || dead[0].LastError != "remote rejected" {
				t.Errorf("unexpected dead letters: %+v", dead)
			}
		})
	}
}

// Queue durability: an enqueued mutation survives closing and
// reopening the database file.
func TestQueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "moshi.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.EnqueueMutation(ctx, testMutation("01AAA")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	pending, err := reopened.PendingMutations(ctx)
	if err != nil {
		t.Fatalf("pending after reopen: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "01AAA" {
		t.Fatalf("expected enqueued mutation to survive restart, got %+v", pending)
	}
	if string(pending[0].Payload) != `{"accuracy":80}` {
		t.Errorf("payload mangled across restart: %s", pending[0].Payload)
	}
}

func TestCleanup(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			old := testSession("sess-old", "user-1", review.StatusCompleted)
			old.UpdatedAt = time.Now().UTC().AddDate(0, 0, -60)
			recent := testSession("sess-recent", "user-1", review.StatusCompleted)
			recent.UpdatedAt = time.Now().UTC()
			live := testSession("sess-live", "user-2", review.StatusActive)
			live.UpdatedAt = time.Now().UTC().AddDate(0, 0, -60)

			for _, sess := range []*review.ReviewSession{old, recent, live} {
				if err := store.SaveSession(ctx, sess); err != nil {
					t.Fatal(err)
				}
			}

			pruned, err := store.Cleanup(ctx, 30)
			if err != nil {
				t.Fatalf("cleanup: %v", err)
			}
			if pruned != 1 {
				t.Errorf("expected 1 pruned session, got %d", pruned)
			}
			if _, err := store.GetSession(ctx, "sess-old"); !errors.Is(err, review.ErrNotFound) {
				t.Errorf("expected old session pruned, got %v", err)
			}
			if _, err := store.GetSession(ctx, "sess-recent"); err != nil {
				t.Errorf("recent session should survive: %v", err)
			}
			// An old but still-active session is never pruned.
			if _, err := store.GetSession(ctx, "sess-live"); err != nil {
				t.Errorf("active session should survive: %v", err)
			}
		})
	}
}

func TestStatisticsRoundTrip(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := &review.SessionStatistics{
				SessionID: "sess-1", UserID: "user-1",
				TotalItems: 10, CompletedItems: 4, CorrectItems: 3, IncorrectItems: 1,
				Accuracy: 75, AvgResponseMs: 4200, CurrentStreak: 2, BestStreak: 3,
				PerDifficulty: map[string]review.BucketStats{
					"easy": {Completed: 3, Correct: 3},
					"hard": {Completed: 1, Correct: 0},
				},
				UpdatedAt: storeNow,
			}
			if err := store.SaveStatistics(ctx, st); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := store.GetStatistics(ctx, "sess-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Accuracy != 75 || got.BestStreak != 3 || got.PerDifficulty["easy"].Correct != 3 {
				t.Errorf("round trip mangled statistics: %+v", got)
			}
		})
	}
}
