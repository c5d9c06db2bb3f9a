// Package gate drops repeated message ids and bursts from one sender.
//
// Guarantees are best effort: the in-memory gate covers one process and is
// wiped every retention period, so duplicates across restarts or replicas
// are not suppressed. The Redis gate widens the scope to every replica that
// shares the instance but keeps the same time-bounded retention.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/chative-relay/server/internal/agent/model"
	logx "github.com/chative-relay/server/pkg/logger"
)

// Gate decides whether an inbound event is processed.
type Gate interface {
	// ShouldProcess marks messageID as seen and records a hit for senderID
	// when it returns true.
	ShouldProcess(ctx context.Context, messageID, senderID string) bool
	// Forget releases messageID so a platform retry is accepted.
	Forget(ctx context.Context, messageID string)
}

type Option func(*Memory)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// Memory is a single-process gate.
type Memory struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	hits      map[string][]time.Time
	window    time.Duration
	capacity  int
	retention time.Duration
	now       func() time.Time
}

func NewMemory(cfg model.GateConfig, opts ...Option) *Memory {
	m := &Memory{
		seen:      make(map[string]struct{}),
		hits:      make(map[string][]time.Time),
		window:    cfg.Window,
		capacity:  cfg.Capacity,
		retention: cfg.Retention,
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) ShouldProcess(_ context.Context, messageID, senderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if messageID != "" {
		if _, dup := m.seen[messageID]; dup {
			logx.Debug().Str("message_id", messageID).Msg("duplicate message dropped")
			return false
		}
	}

	now := m.now()
	recent := m.recent(senderID, now)
	if m.capacity > 0 && len(recent) >= m.capacity {
		m.hits[senderID] = recent
		logx.Debug().Str("sender_id", senderID).Int("hits", len(recent)).Msg("sender rate limited")
		return false
	}

	m.hits[senderID] = append(recent, now)
	if messageID != "" {
		m.seen[messageID] = struct{}{}
	}
	return true
}

// recent returns the sender's hits inside the window ending at now.
func (m *Memory) recent(senderID string, now time.Time) []time.Time {
	hits := m.hits[senderID]
	cutoff := now.Add(-m.window)
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (m *Memory) Forget(_ context.Context, messageID string) {
	m.mu.Lock()
	delete(m.seen, messageID)
	m.mu.Unlock()
}

// Reset clears both stores.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.seen = make(map[string]struct{})
	m.hits = make(map[string][]time.Time)
	m.mu.Unlock()
}

// Run clears the stores every retention period until ctx is done.
func (m *Memory) Run(ctx context.Context) {
	if m.retention <= 0 {
		return
	}
	ticker := time.NewTicker(m.retention)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reset()
			logx.Debug().Dur("retention", m.retention).Msg("gate stores cleared")
		}
	}
}

var _ Gate = (*Memory)(nil)
