// Package session decides which chat session an exchange belongs to and
// appends it. A session continues while the gap since its last message is at
// most the timeout; a longer gap starts a new session.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chative-relay/server/internal/agent/model"
	errx "github.com/chative-relay/server/internal/core/error"
	logx "github.com/chative-relay/server/pkg/logger"
)

const defaultConfidence = 0.95

// Store is the persistence the session manager needs.
type Store interface {
	model.SessionStore
	FindProfile(ctx context.Context, channel model.Channel, senderID string) (*model.Profile, error)
	AppendProfileSession(ctx context.Context, profileID, sessionID string) error
}

// Turn is one side of an exchange before it is timestamped.
type Turn struct {
	ContentType model.ContentType
	Content     string
}

// Result reports where an exchange was written.
type Result struct {
	Session *model.ChatSession
	Created bool
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLocker(l Locker) Option {
	return func(m *Manager) { m.locks = l }
}

type Manager struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
	locks   Locker
}

func NewManager(store Store, cfg model.SessionConfig, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		timeout: cfg.Timeout,
		now:     time.Now,
		locks:   NewLocalLocker(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// History returns the messages of the profile's current session candidate,
// or nil when there is none.
func (m *Manager) History(ctx context.Context, profile *model.Profile) ([]model.Message, error) {
	s, err := m.last(ctx, profile)
	if err != nil || s == nil {
		return nil, err
	}
	return s.Messages, nil
}

// Continues reports whether an exchange at now belongs to s.
func (m *Manager) Continues(s *model.ChatSession, now time.Time) bool {
	if s == nil {
		return false
	}
	return now.Sub(s.LastMessageAt()) <= m.timeout
}

// AppendTurn writes the user and agent turns to the current session, or to a
// new session when the current one timed out. The read of the current
// session and the append run under a per-profile lock.
func (m *Manager) AppendTurn(ctx context.Context, profile *model.Profile, agent *model.Agent, user, reply Turn) (*Result, error) {
	release, err := m.locks.Lock(ctx, profile.ID)
	defer release()
	if err != nil {
		return nil, fmt.Errorf("lock profile %s: %w", profile.ID, err)
	}

	// The caller's copy may predate a session created by a concurrent run.
	fresh, err := m.store.FindProfile(ctx, profile.Channel, profile.SenderID)
	if err != nil {
		return nil, fmt.Errorf("reload profile: %w", err)
	}

	current, err := m.last(ctx, fresh)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if current != nil && now.Before(current.LastMessageAt()) {
		now = current.LastMessageAt()
	}
	msgs := []model.Message{
		{Timestamp: now, Role: model.RoleUser, ContentType: user.ContentType, Content: user.Content},
		{Timestamp: now, Role: model.RoleAgent, ContentType: reply.ContentType, Content: reply.Content},
	}

	log := logx.Debug().Str("profile_id", fresh.ID)

	if m.Continues(current, now) {
		if err := m.store.AppendMessages(ctx, current.ID, msgs...); err != nil {
			return nil, fmt.Errorf("append messages: %w", err)
		}
		current.Messages = append(current.Messages, msgs...)
		log.Str("session_id", current.ID).Msg("appended to current session")
		return &Result{Session: current, Created: false}, nil
	}

	s := &model.ChatSession{
		ID:        uuid.NewString(),
		ProfileID: fresh.ID,
		AgentID:   agent.ID,
		Platform:  fresh.Channel.Platform(),
		StartedAt: now,
		Messages:  msgs,
		Metadata: model.SessionMetadata{
			Location:   "Unknown",
			Device:     fresh.Channel.Platform(),
			Confidence: defaultConfidence,
		},
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := m.store.AppendProfileSession(ctx, fresh.ID, s.ID); err != nil {
		return nil, fmt.Errorf("link session: %w", err)
	}
	log.Str("session_id", s.ID).Bool("timed_out", current != nil).Msg("started new session")
	return &Result{Session: s, Created: true}, nil
}

// last loads the profile's newest session. A dangling id is treated as no
// session so the next exchange starts a fresh one.
func (m *Manager) last(ctx context.Context, profile *model.Profile) (*model.ChatSession, error) {
	id := profile.LastSessionID()
	if id == "" {
		return nil, nil
	}
	s, err := m.store.GetSession(ctx, id)
	if errors.Is(err, errx.ErrNotFound) {
		logx.Warn().Str("profile_id", profile.ID).Str("session_id", id).Msg("session listed on profile is missing")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return s, nil
}
