// Package syncq implements the durable FIFO of pending remote
// mutations. Writers enqueue through Add; Process replays the queue
// against the remote API when online, one mutation at a time, with
// per-item retries and a dead-letter store past the ceiling.
package syncq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/HelyeFab/moshimoshi-sub003/internal/conflict"
	"github.com/HelyeFab/moshimoshi-sub003/internal/events"
	"github.com/HelyeFab/moshimoshi-sub003/internal/remote"
	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
	"github.com/HelyeFab/moshimoshi-sub003/internal/storage"
)

// Config holds the retry policy.
type Config struct {
	// MaxAttempts is the retry ceiling; a mutation that fails this
	// many times moves to the dead-letter store.
	MaxAttempts int `koanf:"max_attempts" validate:"min=1"`
	// BackoffBase is the delay before the first retry; it doubles per
	// attempt.
	BackoffBase time.Duration `koanf:"backoff_base" validate:"min=1ms"`
}

// DefaultConfig returns the reference retry policy.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BackoffBase: 200 * time.Millisecond}
}

// Queue replays locally persisted mutations against the remote API.
type Queue struct {
	store    storage.Store
	client   remote.Client
	monitor  *remote.Monitor
	resolver *conflict.Resolver
	bus      *events.Bus
	log      *slog.Logger
	cfg      Config

	// running guards Process against re-entry: it is triggered both by
	// a timer and by reconnect events, and overlapping drains would
	// break FIFO ordering.
	running atomic.Bool

	clock func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// New constructs a Queue and registers it on the network monitor so a
// reconnect triggers a drain.
func New(store storage.Store, client remote.Client, monitor *remote.Monitor, resolver *conflict.Resolver, bus *events.Bus, log *slog.Logger, cfg Config) *Queue {
	q := &Queue{
		store:    store,
		client:   client,
		monitor:  monitor,
		resolver: resolver,
		bus:      bus,
		log:      log,
		cfg:      cfg,
		clock:    time.Now,
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	monitor.OnChange(func(online bool) {
		if online {
			if err := q.Process(context.Background()); err != nil {
				log.Warn("sync drain after reconnect failed", "error", err)
			}
		}
	})
	return q
}

// newID returns a monotonic ULID; lexicographic order is insertion
// order, which is what makes the queue FIFO.
func (q *Queue) newID() string {
	q.entropyMu.Lock()
	defer q.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(q.clock()), q.entropy).String()
}

// Add durably persists a mutation before returning. While offline this
// is the only thing that happens; the mutation waits for the next
// online drain.
func (q *Queue) Add(ctx context.Context, typ review.MutationType, action review.MutationAction, entityID, userID string, payload any, updatedAt time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	now := q.clock()
	m := review.SyncMutation{
		ID:          q.newID(),
		Type:        typ,
		Action:      action,
		EntityID:    entityID,
		UserID:      userID,
		Payload:     raw,
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   updatedAt,
	}
	if err := q.store.EnqueueMutation(ctx, m); err != nil {
		return err
	}
	q.log.Debug("mutation queued", "id", m.ID, "type", typ, "entity_id", entityID)
	return nil
}

// Status reports pending and dead-lettered counts.
func (q *Queue) Status(ctx context.Context) (storage.QueueStatus, error) {
	return q.store.QueueStatus(ctx)
}

// Process drains the queue in FIFO order, one mutation at a time.
// It is a no-op while offline or while another Process call is still
// in flight. A failing mutation stops the drain (skipping ahead would
// reorder writes targeting the same entity) and is retried on the next
// invocation, until the attempt ceiling moves it to the dead-letter
// store.
func (q *Queue) Process(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return nil
	}
	defer q.running.Store(false)

	if !q.monitor.Online() {
		return nil
	}

	pending, err := q.store.PendingMutations(ctx)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if q.clock().Before(m.NextRetryAt) {
			// Head of the queue is still backing off.
			break
		}

		applyErr := q.apply(ctx, &m)
		if applyErr == nil {
			if err := q.store.DeleteMutation(ctx, m.ID); err != nil {
				return err
			}
			q.log.Debug("mutation applied", "id", m.ID, "type", m.Type)
			continue
		}

		m.Attempts++
		m.LastError = applyErr.Error()

		if m.Attempts >= q.cfg.MaxAttempts {
			// Persist the final attempt count so the dead-letter row
			// records how many tries the mutation burned.
			if err := q.store.UpdateMutation(ctx, m); err != nil {
				return err
			}
			if err := q.store.MoveToDeadLetter(ctx, m.ID, m.LastError); err != nil {
				return err
			}
			q.log.Warn("mutation dead-lettered",
				"id", m.ID, "type", m.Type, "entity_id", m.EntityID,
				"attempts", m.Attempts, "error", applyErr)
			events.Publish(q.bus, events.SyncFailed{
				MutationID: m.ID,
				Type:       string(m.Type),
				EntityID:   m.EntityID,
				Attempts:   m.Attempts,
				LastError:  m.LastError,
			})
			continue
		}

		m.NextRetryAt = q.clock().Add(q.backoff(m.Attempts))
		if err := q.store.UpdateMutation(ctx, m); err != nil {
			return err
		}
		q.log.Debug("mutation apply failed, will retry",
			"id", m.ID, "attempts", m.Attempts, "error", applyErr)
		break
	}
	return nil
}

// Run drains the queue on the given interval until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Process(ctx); err != nil {
				q.log.Warn("scheduled sync drain failed", "error", err)
			}
		}
	}
}

func (q *Queue) backoff(attempts int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

// apply pushes one mutation to the remote API, routing through the
// conflict resolver when the remote record has changed since the
// mutation was queued. When resolution picks a different payload than
// the one queued, the winner is written back to the local store so
// both sides converge on the reconciled state.
func (q *Queue) apply(ctx context.Context, m *review.SyncMutation) error {
	payload := m.Payload
	resolved := false

	if m.Action == review.ActionUpdate {
		rec, err := q.client.Fetch(ctx, m.Type, m.EntityID)
		if err != nil {
			return err
		}
		if rec != nil && rec.UpdatedAt.After(m.UpdatedAt) {
			winner, err := q.resolver.Resolve(m.Type,
				conflict.Record{UpdatedAt: m.UpdatedAt, Payload: m.Payload},
				conflict.Record{UpdatedAt: rec.UpdatedAt, Payload: rec.Payload})
			if err != nil {
				return err
			}
			q.log.Info("conflict resolved",
				"id", m.ID, "type", m.Type, "entity_id", m.EntityID,
				"winner_updated_at", winner.UpdatedAt)
			payload = winner.Payload
			resolved = true
		}
	}

	if err := q.push(ctx, m, payload); err != nil {
		return err
	}
	if resolved {
		return q.reconcile(ctx, m.Type, payload)
	}
	return nil
}

func (q *Queue) push(ctx context.Context, m *review.SyncMutation, payload json.RawMessage) error {
	switch m.Type {
	case review.MutationSession:
		if m.Action == review.ActionCreate {
			return q.client.CreateSession(ctx, m.EntityID, payload)
		}
		return q.client.UpdateSession(ctx, m.EntityID, payload)
	case review.MutationAnswer:
		return q.client.SubmitAnswer(ctx, m.EntityID, payload)
	case review.MutationStatistics:
		return q.client.SaveStatistics(ctx, m.EntityID, payload)
	case review.MutationProgress:
		return q.client.UpdateProgress(ctx, m.EntityID, payload)
	default:
		return fmt.Errorf("unknown mutation type %q", m.Type)
	}
}

// reconcile saves a resolution winner locally. Answers are append-only
// history and never conflict, so there is nothing to write back for
// them.
func (q *Queue) reconcile(ctx context.Context, typ review.MutationType, payload json.RawMessage) error {
	switch typ {
	case review.MutationSession:
		var s review.ReviewSession
		if err := json.Unmarshal(payload, &s); err != nil {
			return fmt.Errorf("unmarshaling reconciled session: %w", err)
		}
		return q.store.SaveSession(ctx, &s)
	case review.MutationStatistics:
		var s review.SessionStatistics
		if err := json.Unmarshal(payload, &s); err != nil {
			return fmt.Errorf("unmarshaling reconciled statistics: %w", err)
		}
		return q.store.SaveStatistics(ctx, &s)
	case review.MutationProgress:
		var d review.SRSData
		if err := json.Unmarshal(payload, &d); err != nil {
			return fmt.Errorf("unmarshaling reconciled progress: %w", err)
		}
		return q.store.SaveSRSData(ctx, d)
	default:
		return nil
	}
}
