package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/HelyeFab/moshimoshi-sub003/internal/conflict"
	"github.com/HelyeFab/moshimoshi-sub003/internal/events"
	"github.com/HelyeFab/moshimoshi-sub003/internal/remote"
	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
	"github.com/HelyeFab/moshimoshi-sub003/internal/storage"
)

// fakeClient is a scripted remote.Client for queue tests.
type fakeClient struct {
	mu       sync.Mutex
	applied  []string // "type:entityID"
	payloads map[string]string
	failWith error
	records  map[string]remote.Record // Fetch responses by entityID
}

func newFakeClient() *fakeClient {
	return &fakeClient{payloads: make(map[string]string), records: make(map[string]remote.Record)}
}

func (f *fakeClient) record(typ, id string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.applied = append(f.applied, typ+":"+id)
	f.payloads[typ+":"+id] = string(payload)
	return nil
}

func (f *fakeClient) CreateSession(_ context.Context, id string, p json.RawMessage) error {
	return f.record("session", id, p)
}
func (f *fakeClient) UpdateSession(_ context.Context, id string, p json.RawMessage) error {
	return f.record("session", id, p)
}
func (f *fakeClient) SubmitAnswer(_ context.Context, id string, p json.RawMessage) error {
	return f.record("answer", id, p)
}
func (f *fakeClient) SaveStatistics(_ context.Context, id string, p json.RawMessage) error {
	return f.record("statistics", id, p)
}
func (f *fakeClient) UpdateProgress(_ context.Context, id string, p json.RawMessage) error {
	return f.record("progress", id, p)
}

func (f *fakeClient) Fetch(_ context.Context, _ review.MutationType, id string) (*remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

type fixture struct {
	queue   *Queue
	store   *storage.MemoryStore
	client  *fakeClient
	monitor *remote.Monitor
	bus     *events.Bus
	now     time.Time
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	f := &fixture{
		store:   storage.NewMemoryStore(),
		client:  newFakeClient(),
		monitor: remote.NewMonitor(online),
		bus:     events.NewBus(),
		now:     time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC),
	}
	f.queue = New(f.store, f.client, f.monitor, conflict.NewResolver(), f.bus,
		slog.New(slog.DiscardHandler), DefaultConfig())
	f.queue.clock = func() time.Time { return f.now }
	return f
}

func (f *fixture) add(t *testing.T, typ review.MutationType, entityID, payload string) {
	t.Helper()
	err := f.queue.Add(context.Background(), typ, review.ActionUpdate, entityID, "user-1",
		json.RawMessage(payload), f.now)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
}

func (f *fixture) pending(t *testing.T) int {
	t.Helper()
	st, err := f.queue.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	return st.Pending
}

const okStats = `{"totalItems":5,"completedItems":2,"correctItems":2,"incorrectItems":0,"skippedItems":0,"accuracy":100,"currentStreak":2,"bestStreak":2}`

func TestOfflineToOnline(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.add(t, review.MutationStatistics, "sess-1", okStats)
	f.add(t, review.MutationAnswer, "ans-1", `{"correct":true}`)
	f.add(t, review.MutationAnswer, "ans-2", `{"correct":false}`)

	if got := f.pending(t); got != 3 {
		t.Fatalf("expected 3 pending while offline, got %d", got)
	}

	// Offline: Process is a no-op.
	if err := f.queue.Process(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.client.applied) != 0 {
		t.Fatalf("expected no remote calls while offline, got %v", f.client.applied)
	}

	// Reconnect triggers a drain through the monitor subscription.
	f.monitor.SetOnline(true)

	if got := f.pending(t); got != 0 {
		t.Errorf("expected empty queue after drain, got %d pending", got)
	}
	want := []string{"statistics:sess-1", "answer:ans-1", "answer:ans-2"}
	if len(f.client.applied) != 3 {
		t.Fatalf("expected 3 applied, got %v", f.client.applied)
	}
	for i, w := range want {
		if f.client.applied[i] != w {
			t.Errorf("apply order[%d] = %s, want %s", i, f.client.applied[i], w)
		}
	}
}

func TestRetryCeilingDeadLetters(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	var failed []events.SyncFailed
	events.Subscribe(f.bus, func(e events.SyncFailed) { failed = append(failed, e) })

	f.client.failWith = errors.New("remote down")
	f.add(t, review.MutationStatistics, "sess-1", okStats)

	for i := 0; i < DefaultConfig().MaxAttempts; i++ {
		if err := f.queue.Process(ctx); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
		f.now = f.now.Add(time.Minute) // clear the backoff window
	}

	st, err := f.queue.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Pending != 0 {
		t.Errorf("expected item gone from main queue, %d pending", st.Pending)
	}
	if st.DeadLettered != 1 {
		t.Errorf("expected 1 dead-lettered item, got %d", st.DeadLettered)
	}

	dead, err := f.store.DeadLetters(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 || dead[0].Attempts != 3 {
		t.Errorf("expected exactly 3 attempts before dead-letter, got %+v", dead)
	}
	if len(failed) != 1 || failed[0].EntityID != "sess-1" {
		t.Errorf("expected one sync-failed event, got %+v", failed)
	}
}

func TestBackoffDelaysRetry(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.client.failWith = errors.New("remote down")
	f.add(t, review.MutationStatistics, "sess-1", okStats)

	if err := f.queue.Process(ctx); err != nil {
		t.Fatal(err)
	}
	// Immediately reprocessing does not burn a second attempt: the
	// head of the queue is still backing off.
	if err := f.queue.Process(ctx); err != nil {
		t.Fatal(err)
	}
	pending, err := f.store.PendingMutations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Attempts != 1 {
		t.Errorf("expected 1 attempt while backing off, got %+v", pending)
	}
}

func TestFailureStopsDrainInOrder(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.client.failWith = errors.New("remote down")
	f.add(t, review.MutationStatistics, "sess-1", okStats)
	f.add(t, review.MutationAnswer, "ans-1", `{"correct":true}`)

	if err := f.queue.Process(ctx); err != nil {
		t.Fatal(err)
	}
	// The second mutation must not jump the failed head: skipping
	// ahead would reorder writes.
	if len(f.client.applied) != 0 {
		t.Errorf("expected nothing applied past the failed head, got %v", f.client.applied)
	}
	if got := f.pending(t); got != 2 {
		t.Errorf("expected both mutations still pending, got %d", got)
	}
}

func TestProcessIsReentrantNoop(t *testing.T) {
	f := newFixture(t, true)
	f.add(t, review.MutationAnswer, "ans-1", `{"correct":true}`)

	f.queue.running.Store(true)
	if err := f.queue.Process(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.client.applied) != 0 {
		t.Errorf("expected overlapping Process to be a no-op, got %v", f.client.applied)
	}
	f.queue.running.Store(false)
}

func TestConflictRoutesThroughResolver(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	remotePayload := `{"totalItems":5,"completedItems":3,"correctItems":3,"incorrectItems":0,"skippedItems":0,"accuracy":100,"currentStreak":3,"bestStreak":3}`
	f.client.records["sess-1"] = remote.Record{
		UpdatedAt: f.now.Add(time.Hour), // remote is newer
		Payload:   json.RawMessage(remotePayload),
	}

	f.add(t, review.MutationStatistics, "sess-1", okStats)
	if err := f.queue.Process(ctx); err != nil {
		t.Fatal(err)
	}

	if got := f.client.payloads["statistics:sess-1"]; got != remotePayload {
		t.Errorf("expected newer remote payload to win, applied %s", got)
	}
	if got := f.pending(t); got != 0 {
		t.Errorf("expected resolved mutation removed, got %d pending", got)
	}
}

func TestConflictWinnerReconcilesLocalStore(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// Stale local row that lost the conflict.
	if err := f.store.SaveStatistics(ctx, &review.SessionStatistics{
		SessionID:      "sess-1",
		UserID:         "user-1",
		TotalItems:     5,
		CompletedItems: 2,
		CorrectItems:   2,
		Accuracy:       100,
		CurrentStreak:  2,
		BestStreak:     2,
		UpdatedAt:      f.now,
	}); err != nil {
		t.Fatal(err)
	}

	remotePayload := `{"sessionId":"sess-1","userId":"user-1","totalItems":5,"completedItems":3,"correctItems":3,"incorrectItems":0,"skippedItems":0,"accuracy":100,"currentStreak":3,"bestStreak":3}`
	f.client.records["sess-1"] = remote.Record{
		UpdatedAt: f.now.Add(time.Hour),
		Payload:   json.RawMessage(remotePayload),
	}

	f.add(t, review.MutationStatistics, "sess-1", okStats)
	if err := f.queue.Process(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := f.store.GetStatistics(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedItems != 3 || got.CorrectItems != 3 || got.BestStreak != 3 {
		t.Errorf("local store kept the losing state: %+v", got)
	}

	// Scheduling state reconciles the same way.
	if err := f.store.SaveSRSData(ctx, review.SRSData{
		UserID:     "user-1",
		ItemID:     "item-1",
		Interval:   1,
		EaseFactor: 2.5,
		UpdatedAt:  f.now,
	}); err != nil {
		t.Fatal(err)
	}
	f.client.records["user-1/item-1"] = remote.Record{
		UpdatedAt: f.now.Add(time.Hour),
		Payload:   json.RawMessage(`{"userId":"user-1","itemId":"item-1","interval":6,"easeFactor":2.4,"repetitions":2,"nextReviewAt":"2026-05-08T10:00:00Z","recentResults":"11"}`),
	}
	f.add(t, review.MutationProgress, "user-1/item-1", `{"userId":"user-1","itemId":"item-1","interval":1,"easeFactor":2.5}`)
	if err := f.queue.Process(ctx); err != nil {
		t.Fatal(err)
	}
	data, err := f.store.GetSRSData(ctx, "user-1", "item-1")
	if err != nil {
		t.Fatal(err)
	}
	if data.Interval != 6 || data.Repetitions != 2 {
		t.Errorf("scheduling row kept the losing state: %+v", data)
	}
}

func TestConflictValidationFailureFollowsRetryPath(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// Remote is newer but corrupt: completed > total.
	f.client.records["sess-1"] = remote.Record{
		UpdatedAt: f.now.Add(time.Hour),
		Payload:   json.RawMessage(`{"totalItems":2,"completedItems":9,"correctItems":9,"incorrectItems":0,"skippedItems":0,"accuracy":100,"currentStreak":0,"bestStreak":0}`),
	}

	f.add(t, review.MutationStatistics, "sess-1", okStats)
	if err := f.queue.Process(ctx); err != nil {
		t.Fatal(err)
	}

	pending, err := f.store.PendingMutations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Attempts != 1 {
		t.Fatalf("expected validation failure to count as an attempt, got %+v", pending)
	}
	if len(f.client.applied) != 0 {
		t.Errorf("expected nothing applied, got %v", f.client.applied)
	}
}
