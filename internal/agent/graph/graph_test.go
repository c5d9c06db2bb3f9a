package graph

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/chative-relay/server/internal/agent/graph/nodes"
	"github.com/chative-relay/server/internal/agent/model"
	errx "github.com/chative-relay/server/internal/core/error"
)

type invocation struct {
	model string
	msgs  []*schema.Message
}

// scriptedInvoker answers per model id and records every call.
type scriptedInvoker struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	usage   map[string]*schema.TokenUsage
	calls   []invocation
}

func (s *scriptedInvoker) Generate(_ context.Context, modelID string, msgs []*schema.Message) (*schema.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, invocation{model: modelID, msgs: msgs})
	if err := s.errs[modelID]; err != nil {
		return nil, err
	}
	msg := schema.AssistantMessage(s.replies[modelID], nil)
	if u := s.usage[modelID]; u != nil {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: u}
	}
	return msg, nil
}

func testLLM() model.LLMConfig {
	return model.LLMConfig{
		DefaultModel:  "gemini-2.5-flash",
		FallbackModel: "gemini-2.5-flash-lite",
		HistoryLimit:  10,
	}
}

func newTestGenerator(t *testing.T, inv nodes.Invoker) *Generator {
	t.Helper()
	g, err := NewGeneratorWithInvoker(context.Background(), inv, testLLM())
	require.NoError(t, err)
	return g
}

func TestGeneratePrimary(t *testing.T) {
	t.Parallel()

	inv := &scriptedInvoker{replies: map[string]string{"gemini-2.5-flash": "  hello there  "}}
	g := newTestGenerator(t, inv)

	reply, err := g.Generate(context.Background(), model.GenerationRequest{
		Agent: model.Agent{Prompt: "You are Ana."},
		Text:  "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply.Text)
	assert.Equal(t, "gemini-2.5-flash", reply.Model)
	assert.False(t, reply.UsedFallback)

	require.Len(t, inv.calls, 1)
	msgs := inv.calls[0].msgs
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, "You are Ana.", msgs[0].Content)
	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestGenerateReportsInvokedModelsAndCost(t *testing.T) {
	t.Parallel()

	usage := &schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000, TotalTokens: 2_000_000}
	inv := &scriptedInvoker{
		replies: map[string]string{"gemini-2.5-flash": "hi"},
		usage:   map[string]*schema.TokenUsage{"gemini-2.5-flash": usage},
	}
	g := newTestGenerator(t, inv)

	reply, err := g.Generate(context.Background(), model.GenerationRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini-2.5-flash"}, reply.Invoked)
	assert.InDelta(t, 0.30+2.50, reply.CostUSD, 1e-9)
}

func TestGenerateUsesAgentGeminiModel(t *testing.T) {
	t.Parallel()

	inv := &scriptedInvoker{replies: map[string]string{"gemini-2.5-pro": "ok"}}
	g := newTestGenerator(t, inv)

	reply, err := g.Generate(context.Background(), model.GenerationRequest{
		Agent: model.Agent{Model: "gemini-2.5-pro"},
		Text:  "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", reply.Model)
}

func TestGenerateFallsBackOnceWithSameTurns(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
	}{
		{name: "sentinel", err: nodes.ErrModelUnavailable},
		{name: "genai not found", err: genai.APIError{Code: 404, Status: "NOT_FOUND"}},
		{name: "genai overloaded", err: &genai.APIError{Code: 503, Status: "UNAVAILABLE"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			inv := &scriptedInvoker{
				replies: map[string]string{"gemini-2.5-flash-lite": "from fallback"},
				errs:    map[string]error{"gemini-2.5-flash": tc.err},
			}
			g := newTestGenerator(t, inv)

			reply, err := g.Generate(context.Background(), model.GenerationRequest{
				Text: "hi",
				History: []model.Message{
					{Role: model.RoleUser, Content: "earlier"},
					{Role: model.RoleAgent, Content: "sure"},
				},
			})
			require.NoError(t, err)
			assert.Equal(t, "from fallback", reply.Text)
			assert.True(t, reply.UsedFallback)
			assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}, reply.Invoked)

			require.Len(t, inv.calls, 2)
			assert.Equal(t, "gemini-2.5-flash", inv.calls[0].model)
			assert.Equal(t, "gemini-2.5-flash-lite", inv.calls[1].model)
			assert.Equal(t, inv.calls[0].msgs, inv.calls[1].msgs)
		})
	}
}

func TestGenerateNonRecoverableSkipsFallback(t *testing.T) {
	t.Parallel()

	inv := &scriptedInvoker{errs: map[string]error{"gemini-2.5-flash": genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}}}
	g := newTestGenerator(t, inv)

	_, err := g.Generate(context.Background(), model.GenerationRequest{Text: "hi"})
	require.ErrorIs(t, err, errx.ErrGenerationFailed)
	assert.Len(t, inv.calls, 1)
}

func TestGenerateBothFail(t *testing.T) {
	t.Parallel()

	inv := &scriptedInvoker{errs: map[string]error{
		"gemini-2.5-flash":      nodes.ErrModelUnavailable,
		"gemini-2.5-flash-lite": errors.New("quota"),
	}}
	g := newTestGenerator(t, inv)

	_, err := g.Generate(context.Background(), model.GenerationRequest{Text: "hi"})
	require.ErrorIs(t, err, errx.ErrGenerationFailed)
	assert.Len(t, inv.calls, 2)
}

func TestGenerateEmptyReplyFails(t *testing.T) {
	t.Parallel()

	inv := &scriptedInvoker{replies: map[string]string{"gemini-2.5-flash": "   "}}
	g := newTestGenerator(t, inv)

	_, err := g.Generate(context.Background(), model.GenerationRequest{Text: "hi"})
	require.ErrorIs(t, err, errx.ErrGenerationFailed)
}

func TestGenerateNotConfigured(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator(context.Background(), Config{LLM: testLLM()})
	require.NoError(t, err)
	assert.False(t, g.Configured())

	_, err = g.Generate(context.Background(), model.GenerationRequest{Text: "hi"})
	require.ErrorIs(t, err, errx.ErrGenerationNotConfigured)
	assert.False(t, errors.Is(err, errx.ErrGenerationFailed))
}

func TestBuildGraphRequiresInvoker(t *testing.T) {
	t.Parallel()

	_, err := BuildGraph(context.Background(), &GraphConfig{LLM: testLLM()})
	require.Error(t, err)
	_, err = BuildGraph(context.Background(), nil)
	require.Error(t, err)
}
