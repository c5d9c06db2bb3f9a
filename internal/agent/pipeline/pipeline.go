// Package pipeline runs one inbound webhook through every stage: gate,
// identity, media, generation, humanizer, session and delivery. Each stage
// degrades to a canned reply; only signature and persistence failures reach
// the HTTP boundary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chative-relay/server/internal/agent/channel"
	"github.com/chative-relay/server/internal/agent/delivery"
	"github.com/chative-relay/server/internal/agent/gate"
	"github.com/chative-relay/server/internal/agent/graph"
	"github.com/chative-relay/server/internal/agent/humanize"
	"github.com/chative-relay/server/internal/agent/media"
	"github.com/chative-relay/server/internal/agent/model"
	"github.com/chative-relay/server/internal/agent/session"
	errx "github.com/chative-relay/server/internal/core/error"
	logx "github.com/chative-relay/server/pkg/logger"
)

// replyBudget bounds the best-effort error reply sent after the request
// budget ran out.
const replyBudget = 10 * time.Second

// Generator produces the model reply for one event.
type Generator interface {
	Generate(ctx context.Context, req model.GenerationRequest) (graph.Reply, error)
}

// Enricher resolves an attachment.
type Enricher interface {
	Enrich(ctx context.Context, ref model.MediaRef, authorize func(*http.Request)) (*model.MediaInfo, error)
}

// Identity resolves agents and profiles.
type Identity interface {
	ResolveAgent(ctx context.Context, routingID string) (*model.Agent, error)
	ResolveProfile(ctx context.Context, agent *model.Agent, ev model.InboundEvent, lookup channel.SenderLookup) (*model.Profile, bool, error)
}

// Sessions reads history and persists exchanges.
type Sessions interface {
	History(ctx context.Context, profile *model.Profile) ([]model.Message, error)
	AppendTurn(ctx context.Context, profile *model.Profile, agent *model.Agent, user, reply session.Turn) (*session.Result, error)
}

// Deps are the collaborators of a Pipeline. Enricher may be nil, in which
// case every attachment is answered with a media apology.
type Deps struct {
	Gate      gate.Gate
	Identity  Identity
	Enricher  Enricher
	Generator Generator
	Humanizer *humanize.Humanizer
	Sessions  Sessions
}

type Pipeline struct {
	Deps
}

func New(deps Deps) *Pipeline {
	if deps.Humanizer == nil {
		deps.Humanizer = humanize.New()
	}
	return &Pipeline{Deps: deps}
}

// Response is what the webhook handler writes back.
type Response struct {
	// Inline is set when a reply must travel in the webhook response.
	Inline *channel.InlineReply
}

// Outcome describes one processed event. Kind is the errx sentinel for
// events that stopped early, nil for a normal reply.
type Outcome struct {
	Dropped  bool
	Reply    string
	Stage    string
	Kind     error
	Delivery delivery.Result
}

const (
	StageGate      = "gate"
	StageInactive  = "inactive"
	StageUnrouted  = "unrouted"
	StageVideo     = "video"
	StageMedia     = "media"
	StageFallback  = "fallback"
	StageGenerated = "generated"
	StageError     = "error"
	StageTimeout   = "timeout"
)

// Handle verifies and parses a webhook, then processes every event in it.
// The returned error carries errx.ErrSignatureInvalid or errx.ErrPersistence
// kinds; errx.StatusOf maps it to the HTTP status.
func (p *Pipeline) Handle(ctx context.Context, a channel.Adapter, req *channel.Request) (Response, error) {
	if !a.Verify(req) {
		logx.Warn().Str("channel", string(a.Channel())).Msg("webhook signature rejected")
		return Response{}, errx.Wrap(errx.ErrSignatureInvalid, nil, http.StatusForbidden)
	}

	events, err := a.Parse(ctx, req)
	if err != nil {
		logx.Warn().Err(err).Str("channel", string(a.Channel())).Msg("webhook payload ignored")
		return Response{}, nil
	}

	var (
		resp     Response
		firstErr error
	)
	for _, ev := range events {
		out, err := p.Process(ctx, a, ev)
		if out.Delivery.Inline != nil {
			resp.Inline = out.Delivery.Inline
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return resp, firstErr
}

// Process runs one event. A non-nil error means the exchange was not
// persisted; the message id is released so a platform retry is accepted.
func (p *Pipeline) Process(ctx context.Context, a channel.Adapter, ev model.InboundEvent) (Outcome, error) {
	if !p.Gate.ShouldProcess(ctx, ev.MessageID, ev.SenderID) {
		logx.Info().
			Str("channel", string(ev.Channel)).
			Str("message_id", ev.MessageID).
			Str("sender_id", ev.SenderID).
			Msg("event dropped by gate")
		return Outcome{Dropped: true, Stage: StageGate, Kind: errx.ErrDuplicateOrRateLimited}, nil
	}

	out, err := p.run(ctx, a, ev)
	if err == nil {
		return out, nil
	}

	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		logx.Error().Err(err).
			Str("channel", string(ev.Channel)).
			Str("message_id", ev.MessageID).
			Msg("request budget exceeded")
		replyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyBudget)
		defer cancel()
		return p.reply(replyCtx, a, ev, StageTimeout, p.Humanizer.Pick(humanize.GeneralErrorPhrases)), nil
	}

	logx.Error().Err(err).
		Str("channel", string(ev.Channel)).
		Str("message_id", ev.MessageID).
		Str("sender_id", ev.SenderID).
		Msg("pipeline failed; releasing message id for retry")
	p.Gate.Forget(ctx, ev.MessageID)
	out = p.reply(ctx, a, ev, StageError, p.Humanizer.Pick(humanize.ErrorPhrases))
	return out, err
}

func (p *Pipeline) run(ctx context.Context, a channel.Adapter, ev model.InboundEvent) (Outcome, error) {
	agent, err := p.Identity.ResolveAgent(ctx, ev.RoutingID)
	if errors.Is(err, errx.ErrAgentUnroutable) {
		// A retry cannot route it either.
		logx.Warn().
			Str("channel", string(ev.Channel)).
			Str("message_id", ev.MessageID).
			Msg("event has no routing id and no default is configured; dropped")
		return Outcome{Dropped: true, Stage: StageUnrouted, Kind: errx.ErrAgentUnroutable}, nil
	}
	if err != nil {
		return Outcome{}, persistence(fmt.Errorf("resolve agent: %w", err))
	}
	if !agent.Active {
		logx.Info().Str("agent_id", agent.ID).Str("routing_id", ev.RoutingID).Msg("agent inactive")
		out := p.reply(ctx, a, ev, StageInactive, humanize.InactivePhrase)
		out.Kind = errx.ErrAgentInactive
		return out, nil
	}

	var info *model.MediaInfo
	if ev.Media != nil {
		var stop *Outcome
		info, stop = p.enrich(ctx, a, ev)
		if stop != nil {
			return *stop, nil
		}
	}

	profile, created, err := p.Identity.ResolveProfile(ctx, agent, ev, lookupOf(a))
	if err != nil {
		return Outcome{}, persistence(fmt.Errorf("resolve profile: %w", err))
	}

	history, err := p.Sessions.History(ctx, profile)
	if err != nil {
		return Outcome{}, persistence(fmt.Errorf("load history: %w", err))
	}

	stage := StageGenerated
	text, err := p.generate(ctx, agent, ev, info, history)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, err
		}
		stage = StageFallback
	}

	res, err := p.Sessions.AppendTurn(ctx, profile, agent, userTurn(ev, info), session.Turn{ContentType: model.ContentText, Content: text})
	if err != nil {
		return Outcome{}, persistence(fmt.Errorf("append turn: %w", err))
	}
	logx.Info().
		Str("channel", string(ev.Channel)).
		Str("message_id", ev.MessageID).
		Str("profile_id", profile.ID).
		Bool("new_profile", created).
		Str("session_id", res.Session.ID).
		Bool("new_session", res.Created).
		Msg("exchange stored")

	return p.reply(ctx, a, ev, stage, text), nil
}

// enrich returns a non-nil Outcome when the event must stop at the media stage.
func (p *Pipeline) enrich(ctx context.Context, a channel.Adapter, ev model.InboundEvent) (*model.MediaInfo, *Outcome) {
	if kind, ok := media.Classify(ev.Media.ContentType); ok && kind == model.MediaVideo {
		out := p.reply(ctx, a, ev, StageVideo, p.Humanizer.Pick(humanize.VideoPhrases))
		return nil, &out
	}
	if p.Enricher == nil {
		out := p.reply(ctx, a, ev, StageMedia, p.Humanizer.Pick(humanize.MediaErrorPhrases))
		return nil, &out
	}

	var authorize func(*http.Request)
	if ma, ok := a.(channel.MediaAuthorizer); ok {
		authorize = ma.AuthorizeMedia
	}
	info, err := p.Enricher.Enrich(ctx, *ev.Media, authorize)
	if err == nil {
		return info, nil
	}

	stage, phrases := StageMedia, humanize.MediaErrorPhrases
	if errors.Is(err, media.ErrVideo) {
		stage, phrases = StageVideo, humanize.VideoPhrases
	}
	logx.Warn().Err(err).
		Str("message_id", ev.MessageID).
		Str("content_type", ev.Media.ContentType).
		Msg("attachment not processed")
	out := p.reply(ctx, a, ev, stage, p.Humanizer.Pick(phrases))
	return nil, &out
}

// generate returns a humanized model reply, or a fallback phrase together
// with the generation error.
func (p *Pipeline) generate(ctx context.Context, agent *model.Agent, ev model.InboundEvent, info *model.MediaInfo, history []model.Message) (string, error) {
	reply, err := p.Generator.Generate(ctx, model.GenerationRequest{
		Agent:   *agent,
		Text:    ev.Text,
		Media:   info,
		History: history,
	})
	if err != nil {
		if errors.Is(err, errx.ErrGenerationNotConfigured) {
			logx.Info().Str("message_id", ev.MessageID).Msg("generation not configured; using fallback phrase")
		} else {
			logx.Warn().Err(err).Str("message_id", ev.MessageID).Msg("generation failed; using fallback phrase")
		}
		return p.Humanizer.Pick(humanize.FallbackPhrases), err
	}
	logx.Info().
		Str("message_id", ev.MessageID).
		Str("model", reply.Model).
		Bool("fallback_model", reply.UsedFallback).
		Strs("invoked", reply.Invoked).
		Float64("cost_usd", reply.CostUSD).
		Msg("reply generated")
	return p.Humanizer.HumanizeFor(reply.Text, ev.Text), nil
}

func (p *Pipeline) reply(ctx context.Context, a channel.Adapter, ev model.InboundEvent, stage, text string) Outcome {
	return Outcome{
		Reply:    text,
		Stage:    stage,
		Delivery: delivery.Deliver(ctx, a, ev, text),
	}
}

// userTurn is the stored form of the inbound message.
func userTurn(ev model.InboundEvent, info *model.MediaInfo) session.Turn {
	if info == nil {
		return session.Turn{ContentType: model.ContentText, Content: ev.Text}
	}
	content := strings.TrimSpace(ev.Text)
	if content == "" {
		content = placeholder(info.Kind)
	}
	return session.Turn{
		ContentType: info.Kind.ContentType(),
		Content:     fmt.Sprintf("%s\n[Media: %s]", content, info.URL),
	}
}

func placeholder(kind model.MediaKind) string {
	switch kind {
	case model.MediaImage:
		return "[Image received]"
	case model.MediaAudio:
		return "[Audio message received]"
	case model.MediaVideo:
		return "[Video received]"
	default:
		return "[Document received]"
	}
}

func lookupOf(a channel.Adapter) channel.SenderLookup {
	if l, ok := a.(channel.SenderLookup); ok {
		return l
	}
	return nil
}

// persistence tags store failures that are not already classified.
func persistence(err error) error {
	if errors.Is(err, errx.ErrPersistence) {
		return err
	}
	return errx.Wrap(errx.ErrPersistence, err, http.StatusInternalServerError)
}
