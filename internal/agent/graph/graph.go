package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/compose"

	"github.com/chative-relay/server/internal/agent/graph/conversations"
	"github.com/chative-relay/server/internal/agent/graph/nodes"
	"github.com/chative-relay/server/internal/agent/graph/observers"
	"github.com/chative-relay/server/internal/agent/model"
	errx "github.com/chative-relay/server/internal/core/error"
	logx "github.com/chative-relay/server/pkg/logger"
)

var errEmptyReply = errors.New("model returned an empty reply")

// Reply is the text produced for one inbound message.
type Reply struct {
	Text         string
	Model        string
	UsedFallback bool
	// Invoked lists the model ids called, in order.
	Invoked      []string
	CostUSD      float64
}

// Config holds everything needed to build a Generator.
type Config struct {
	APIKey  string
	BaseURL string
	LLM     model.LLMConfig
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	Invoker nodes.Invoker
	LLM     model.LLMConfig
}

// GraphBuilder handles the construction of the generation graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.GenerationRequest, *model.GenerationOutcome]
}

// Generator produces replies. A Generator without a runnable is the
// not-configured fast path: it fails immediately without network calls.
type Generator struct {
	runnable compose.Runnable[model.GenerationRequest, *model.GenerationOutcome]
}

// NewGenerator builds a Gemini-backed Generator. An empty API key yields a
// not-configured Generator rather than an error.
func NewGenerator(ctx context.Context, cfg Config) (*Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		logx.Warn().Msg("GEMINI_API_KEY is not set; replies will use fallback phrases")
		return &Generator{}, nil
	}

	inv, err := nodes.NewGeminiInvoker(ctx, nodes.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		LLM:     cfg.LLM,
	})
	if err != nil {
		return nil, err
	}
	return NewGeneratorWithInvoker(ctx, inv, cfg.LLM)
}

// NewGeneratorWithInvoker builds the graph around any Invoker.
func NewGeneratorWithInvoker(ctx context.Context, inv nodes.Invoker, llm model.LLMConfig) (*Generator, error) {
	runnable, err := BuildGraph(ctx, &GraphConfig{Invoker: inv, LLM: llm})
	if err != nil {
		return nil, err
	}
	logx.Debug().Str("model", llm.DefaultModel).Str("fallback_model", llm.FallbackModel).Msg("Generation graph built successfully")
	return &Generator{runnable: runnable}, nil
}

// Configured reports whether generation can reach a model.
func (g *Generator) Configured() bool {
	return g != nil && g.runnable != nil
}

// Generate returns errx.ErrGenerationNotConfigured without credentials and
// errx.ErrGenerationFailed when both attempts fail or the reply is empty.
func (g *Generator) Generate(ctx context.Context, req model.GenerationRequest) (Reply, error) {
	if !g.Configured() {
		return Reply{}, errx.Wrap(errx.ErrGenerationNotConfigured, nil, http.StatusOK)
	}

	out, err := g.runnable.Invoke(ctx, req, compose.WithCallbacks(observers.NewAllCallbacks()...))
	if err != nil {
		return Reply{}, errx.Wrap(errx.ErrGenerationFailed, err, http.StatusOK)
	}
	if out == nil {
		return Reply{}, errx.Wrap(errx.ErrGenerationFailed, errEmptyReply, http.StatusOK)
	}
	if out.Err != nil {
		return Reply{}, errx.Wrap(errx.ErrGenerationFailed, out.Err, http.StatusOK)
	}
	if out.Message == nil || strings.TrimSpace(out.Message.Content) == "" {
		return Reply{}, errx.Wrap(errx.ErrGenerationFailed, errEmptyReply, http.StatusOK)
	}

	return Reply{
		Text:         strings.TrimSpace(out.Message.Content),
		Model:        out.Model,
		UsedFallback: out.Fallback,
		Invoked:      out.Invoked,
		CostUSD:      out.CostUSD,
	}, nil
}

// BuildGraph constructs and returns the compiled generation graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.GenerationRequest, *model.GenerationOutcome], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.Invoker == nil {
		return nil, fmt.Errorf("invoker is nil")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.GenerationRequest, *model.GenerationOutcome](
			compose.WithGenLocalState(func(ctx context.Context) *model.GenerationState {
				return &model.GenerationState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	tb := conversations.NewTurnBuilder(b.config.LLM)

	if err := b.graph.AddLambdaNode(nodes.NodeAssembler,
		nodes.NewAssemblerNode(tb),
		compose.WithStatePreHandler(nodes.NewAssemblerPreHandler(b.config.LLM)),
		compose.WithStatePostHandler(nodes.NewAssemblerPostHandler()),
	); err != nil {
		return fmt.Errorf("add %s node: %w", nodes.NodeAssembler, err)
	}

	if err := b.graph.AddLambdaNode(nodes.NodePrimaryModel,
		nodes.NewPrimaryModelNode(b.config.Invoker),
		compose.WithStatePostHandler(nodes.NewModelPostHandler(nodes.NodePrimaryModel)),
	); err != nil {
		return fmt.Errorf("add %s node: %w", nodes.NodePrimaryModel, err)
	}

	if err := b.graph.AddLambdaNode(nodes.NodeFallbackModel,
		nodes.NewFallbackModelNode(b.config.Invoker),
		compose.WithStatePostHandler(nodes.NewModelPostHandler(nodes.NodeFallbackModel)),
	); err != nil {
		return fmt.Errorf("add %s node: %w", nodes.NodeFallbackModel, err)
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeAssembler},
		{nodes.NodeAssembler, nodes.NodePrimaryModel},
		{nodes.NodeFallbackModel, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	fallbackBranch := compose.NewGraphBranch(
		nodes.NewFallbackCondition(),
		map[string]bool{
			nodes.NodeFallbackModel: true,
			compose.END:             true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodePrimaryModel, fallbackBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding fallback branch")
		return fmt.Errorf("error adding fallback branch: %w", err)
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.GenerationRequest, *model.GenerationOutcome], error) {
	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(10))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
