package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-relay/server/internal/agent/graph/conversations"
	"github.com/chative-relay/server/internal/agent/graph/prompts"
	"github.com/chative-relay/server/internal/agent/model"
	logx "github.com/chative-relay/server/pkg/logger"
)

const (
	NodeAssembler     = "Assembler"
	NodePrimaryModel  = "PrimaryModel"
	NodeFallbackModel = "FallbackModel"
)

// NewAssemblerPreHandler picks the primary and fallback model ids for this run.
func NewAssemblerPreHandler(llm model.LLMConfig) func(context.Context, model.GenerationRequest, *model.GenerationState) (model.GenerationRequest, error) {
	return func(ctx context.Context, in model.GenerationRequest, s *model.GenerationState) (model.GenerationRequest, error) {
		s.PrimaryModel = ResolveModel(in.Agent.Model, llm.DefaultModel)
		s.FallbackModel = llm.FallbackModel
		s.Invoked = nil
		s.TotalCostUSD = 0
		return in, nil
	}
}

// NewAssemblerNode renders the system prompt and the merged turn list.
func NewAssemblerNode(tb *conversations.TurnBuilder) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.GenerationRequest) ([]*schema.Message, error) {
		systemPrompt, err := prompts.RenderResponseSystem(ctx, in.Agent, in.Media)
		if err != nil {
			return nil, fmt.Errorf("render response system prompt: %w", err)
		}

		turns := tb.Build(in.History, in.Text, in.Media)
		messages := make([]*schema.Message, 0, len(turns)+1)
		messages = append(messages, schema.SystemMessage(systemPrompt))
		messages = append(messages, turns...)
		return messages, nil
	})
}

// NewAssemblerPostHandler keeps the processed turns so the fallback attempt
// sends exactly what the primary attempt sent.
func NewAssemblerPostHandler() func(context.Context, []*schema.Message, *model.GenerationState) ([]*schema.Message, error) {
	return func(ctx context.Context, out []*schema.Message, s *model.GenerationState) ([]*schema.Message, error) {
		s.Turns = out
		return out, nil
	}
}

// NewPrimaryModelNode calls the primary model. Invocation errors are carried
// in the outcome so the fallback branch can classify them.
func NewPrimaryModelNode(inv Invoker) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in []*schema.Message) (*model.GenerationOutcome, error) {
		var modelID string
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.GenerationState) error {
			modelID = s.PrimaryModel
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		logx.Debug().Str("model", modelID).Int("turns", len(in)).Msg("AI thinking...")
		msg, err := inv.Generate(ctx, modelID, in)
		return &model.GenerationOutcome{Message: msg, Model: modelID, Err: err}, nil
	})
}

// NewFallbackCondition routes a recoverable primary failure to the fallback
// model, and everything else to END.
func NewFallbackCondition() func(context.Context, *model.GenerationOutcome) (string, error) {
	return func(ctx context.Context, out *model.GenerationOutcome) (string, error) {
		if out == nil || out.Err == nil {
			return compose.END, nil
		}

		var primary, fallback string
		_ = compose.ProcessState(ctx, func(_ context.Context, s *model.GenerationState) error {
			primary, fallback = s.PrimaryModel, s.FallbackModel
			return nil
		})

		if !IsRecoverable(out.Err) {
			logx.Warn().Err(out.Err).Str("model", primary).Msg("Primary model failed; error is not recoverable")
			return compose.END, nil
		}
		if fallback == "" || fallback == primary {
			logx.Warn().Err(out.Err).Str("model", primary).Msg("Primary model failed; no distinct fallback configured")
			return compose.END, nil
		}
		logx.Warn().Err(out.Err).Str("model", primary).Str("fallback_model", fallback).Msg("Routing to fallback model")
		return NodeFallbackModel, nil
	}
}

// NewFallbackModelNode retries once on the fallback model with the stored turns.
func NewFallbackModelNode(inv Invoker) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, primary *model.GenerationOutcome) (*model.GenerationOutcome, error) {
		var (
			modelID string
			turns   []*schema.Message
		)
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.GenerationState) error {
			modelID, turns = s.FallbackModel, s.Turns
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		msg, err := inv.Generate(ctx, modelID, turns)
		if err != nil {
			err = fmt.Errorf("fallback %s after %v: %w", modelID, primary.Err, err)
		}
		return &model.GenerationOutcome{Message: msg, Model: modelID, Fallback: true, Err: err}, nil
	})
}

// NewModelPostHandler records the invocation, logs its usage cost and copies
// the run totals onto the outcome.
func NewModelPostHandler(node string) func(context.Context, *model.GenerationOutcome, *model.GenerationState) (*model.GenerationOutcome, error) {
	return func(ctx context.Context, out *model.GenerationOutcome, state *model.GenerationState) (*model.GenerationOutcome, error) {
		if out == nil {
			return out, nil
		}
		state.Invoked = append(state.Invoked, out.Model)
		if out.Err == nil {
			state.TotalCostUSD += logUsage(node, out.Model, out.Message)
		}
		out.Invoked = append([]string(nil), state.Invoked...)
		out.CostUSD = state.TotalCostUSD
		return out, nil
	}
}
