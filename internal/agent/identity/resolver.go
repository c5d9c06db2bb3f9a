package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/chative-relay/server/internal/agent/channel"
	"github.com/chative-relay/server/internal/agent/model"
	errx "github.com/chative-relay/server/internal/core/error"
	logx "github.com/chative-relay/server/pkg/logger"
)

const (
	DefaultAgentName   = "Default Agent"
	DefaultAgentPrompt = "You are a helpful AI assistant. Respond to user messages in a friendly and professional manner."

	unknownPhoneUser  = "Unknown User"
	unknownSocialUser = "Facebook User"
)

type Store interface {
	model.AgentStore
	model.ProfileStore
}

// Resolver maps routing ids to agents and senders to profiles.
type Resolver struct {
	store            Store
	defaultRoutingID string
	now              func() time.Time
}

func NewResolver(store Store, cfg model.IdentityConfig) *Resolver {
	return &Resolver{
		store:            store,
		defaultRoutingID: cfg.DefaultRoutingID,
		now:              time.Now,
	}
}

// ResolveAgent tries the exact routing id, then social agents whose stored
// page link normalizes to it, then the default routing id, and finally
// creates an active default agent. With neither a routing id nor a default
// routing id it fails with errx.ErrAgentUnroutable.
func (r *Resolver) ResolveAgent(ctx context.Context, routingID string) (*model.Agent, error) {
	if routingID != "" {
		agent, err := r.findAgent(ctx, routingID)
		if err != nil || agent != nil {
			return agent, err
		}

		socials, err := r.store.ListSocialAgents(ctx)
		if err != nil {
			return nil, fmt.Errorf("list social agents: %w", err)
		}
		for i := range socials {
			if channel.PageID(socials[i].SocialLink) == routingID {
				return &socials[i], nil
			}
		}
	}

	if r.defaultRoutingID != "" && r.defaultRoutingID != routingID {
		agent, err := r.findAgent(ctx, r.defaultRoutingID)
		if err != nil || agent != nil {
			if agent != nil {
				logx.Info().Str("routing_id", routingID).Str("agent_id", agent.ID).Msg("routing id unknown; using default agent")
			}
			return agent, err
		}
	}

	if routingID == "" && r.defaultRoutingID == "" {
		return nil, errx.Wrap(errx.ErrAgentUnroutable, nil, http.StatusOK)
	}

	agent := &model.Agent{
		ID:          uuid.NewString(),
		Name:        DefaultAgentName,
		Prompt:      DefaultAgentPrompt,
		PhoneNumber: r.defaultRoutingID,
		Active:      true,
		CreatedAt:   r.now(),
	}
	if agent.PhoneNumber == "" {
		agent.PhoneNumber = routingID
	}
	if err := r.store.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("create default agent: %w", err)
	}
	logx.Warn().Str("routing_id", routingID).Str("agent_id", agent.ID).Msg("created default agent")
	return agent, nil
}

// findAgent returns nil, nil when nothing matches.
func (r *Resolver) findAgent(ctx context.Context, routingID string) (*model.Agent, error) {
	agent, err := r.store.FindAgentByRoutingID(ctx, routingID)
	if errors.Is(err, errx.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find agent %q: %w", routingID, err)
	}
	return agent, nil
}

// ResolveProfile returns the sender's profile, creating it with an empty
// Analysis on first contact. Missing links left by an earlier failed attempt
// are repaired, so a retry never duplicates the profile.
func (r *Resolver) ResolveProfile(ctx context.Context, agent *model.Agent, ev model.InboundEvent, lookup channel.SenderLookup) (*model.Profile, bool, error) {
	profile, err := r.store.FindProfile(ctx, ev.Channel, ev.SenderID)
	if err != nil && !errors.Is(err, errx.ErrNotFound) {
		return nil, false, fmt.Errorf("find profile: %w", err)
	}

	created := false
	if profile == nil {
		candidate := r.newProfile(ctx, ev, lookup)
		profile, created, err = r.store.GetOrCreateProfile(ctx, candidate)
		if err != nil {
			return nil, false, fmt.Errorf("create profile: %w", err)
		}
		if created {
			logx.Info().Str("profile_id", profile.ID).Str("sender_id", ev.SenderID).Str("channel", string(ev.Channel)).Msg("profile created")
		}
	}

	if err := r.ensureLinks(ctx, profile, agent); err != nil {
		return nil, created, err
	}
	return profile, created, nil
}

func (r *Resolver) ensureLinks(ctx context.Context, profile *model.Profile, agent *model.Agent) error {
	var agentID, analysisID string
	if profile.AgentID == "" && agent != nil {
		agentID = agent.ID
	}
	if profile.AnalysisID == "" {
		analysis := &model.Analysis{
			ID:        uuid.NewString(),
			ProfileID: profile.ID,
			Data:      map[string]any{},
			CreatedAt: r.now(),
		}
		if err := r.store.CreateAnalysis(ctx, analysis); err != nil {
			return fmt.Errorf("create analysis: %w", err)
		}
		analysisID = analysis.ID
	}
	if agentID == "" && analysisID == "" {
		return nil
	}

	if err := r.store.UpdateProfileLinks(ctx, profile.ID, agentID, analysisID); err != nil {
		return fmt.Errorf("link profile: %w", err)
	}
	if agentID != "" {
		profile.AgentID = agentID
	}
	if analysisID != "" {
		profile.AnalysisID = analysisID
	}
	return nil
}

func (r *Resolver) newProfile(ctx context.Context, ev model.InboundEvent, lookup channel.SenderLookup) *model.Profile {
	p := &model.Profile{
		ID:         uuid.NewString(),
		Name:       ev.DisplayName,
		Channel:    ev.Channel,
		SenderID:   ev.SenderID,
		SessionIDs: []string{},
		CreatedAt:  r.now(),
	}

	switch ev.Channel {
	case model.ChannelMessenger:
		locale := ev.Locale
		if lookup != nil && (p.Name == "" || locale == "") {
			info, err := lookup.LookupSender(ctx, ev.SenderID)
			if err != nil {
				logx.Warn().Err(err).Str("sender_id", ev.SenderID).Msg("sender lookup failed")
			} else {
				if p.Name == "" {
					p.Name = info.Name
				}
				if locale == "" {
					locale = info.Locale
				}
			}
		}
		if p.Name == "" {
			p.Name = unknownSocialUser
		}
		p.Country = channel.CountryFromLocale(locale)
	default:
		if p.Name == "" {
			p.Name = unknownPhoneUser
		}
		p.Country = channel.CountryFromPhone(ev.SenderID)
	}
	return p
}
