package model

import "context"

// AgentStore lookups return errx.ErrNotFound when nothing matches.
type AgentStore interface {
	FindAgentByRoutingID(ctx context.Context, routingID string) (*Agent, error)
	// ListSocialAgents returns agents with a SocialLink set.
	ListSocialAgents(ctx context.Context) ([]Agent, error)
	CreateAgent(ctx context.Context, agent *Agent) error
}

type ProfileStore interface {
	FindProfile(ctx context.Context, channel Channel, senderID string) (*Profile, error)
	// GetOrCreateProfile returns the profile for (Channel, SenderID), inserting
	// p when none exists. created reports whether p was inserted.
	GetOrCreateProfile(ctx context.Context, p *Profile) (profile *Profile, created bool, err error)
	// UpdateProfileLinks sets the non-empty ids.
	UpdateProfileLinks(ctx context.Context, profileID, agentID, analysisID string) error
	AppendProfileSession(ctx context.Context, profileID, sessionID string) error
	CreateAnalysis(ctx context.Context, a *Analysis) error
}

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*ChatSession, error)
	CreateSession(ctx context.Context, s *ChatSession) error
	AppendMessages(ctx context.Context, sessionID string, msgs ...Message) error
}

// Store is the full persistence surface of the pipeline. Each call is a
// separate write; nothing spans a transaction.
type Store interface {
	AgentStore
	ProfileStore
	SessionStore
}
