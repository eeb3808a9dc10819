// Package remote defines the remote persistence API the sync queue
// replays mutations against, and the network-state signal that gates
// it. The engine only ever sees these interfaces; the HTTP client is
// the packaged reference implementation.
package remote

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
)

// Record is a remote record snapshot used for conflict detection.
type Record struct {
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Client is the remote persistence API. Every operation is
// idempotent by id, so the sync queue can retry safely. Transport and
// server failures are reported wrapped in review.ErrSyncTransport.
type Client interface {
	CreateSession(ctx context.Context, id string, payload json.RawMessage) error
	UpdateSession(ctx context.Context, id string, payload json.RawMessage) error
	SubmitAnswer(ctx context.Context, id string, payload json.RawMessage) error
	SaveStatistics(ctx context.Context, id string, payload json.RawMessage) error
	UpdateProgress(ctx context.Context, id string, payload json.RawMessage) error

	// Fetch returns the current remote record for conflict detection,
	// or (nil, nil) when the record does not exist remotely.
	Fetch(ctx context.Context, typ review.MutationType, id string) (*Record, error)
}

// Monitor is the online/offline observable the sync queue subscribes
// to. The signal source (browser events, connectivity probes) lives
// outside the engine; callers flip the state with SetOnline.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   []func(bool)
}

// NewMonitor returns a Monitor in the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online}
}

// Online reports the current network state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline updates the state and notifies subscribers on change.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subs := append(([]func(bool))(nil), m.subs...)
	m.mu.Unlock()

	if changed {
		for _, fn := range subs {
			fn(online)
		}
	}
}

// OnChange registers a callback invoked whenever the state flips.
func (m *Monitor) OnChange(fn func(bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}
