package nodes

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/chative-relay/server/internal/agent/model"
	logx "github.com/chative-relay/server/pkg/logger"
)

// ResolveModel returns the agent's model when it names a Gemini model, else
// the configured default. Agents created elsewhere may carry other vendors'
// model names.
func ResolveModel(agentModel, defaultModel string) string {
	m := strings.TrimSpace(agentModel)
	if strings.HasPrefix(m, "gemini-") {
		return m
	}
	return defaultModel
}

// logUsage prices the response usage, logs it and exposes it in Extra.
// Returns the total cost in USD.
func logUsage(node, modelName string, out *schema.Message) float64 {
	if out == nil || out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return 0
	}
	cost := model.ComputeCost(modelName, out.ResponseMeta.Usage)
	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	out.Extra["usage_cost"] = map[string]any{
		"currency":          "USD",
		"model":             modelName,
		"prompt_tokens":     cost.PromptTokens,
		"completion_tokens": cost.CompletionTokens,
		"total_tokens":      cost.TotalTokens,
		"input_cost":        cost.InputCost,
		"output_cost":       cost.OutputCost,
		"total_cost":        cost.TotalCost,
	}
	logx.Debug().
		Str("node", node).
		Str("model", modelName).
		Int("prompt_tokens", cost.PromptTokens).
		Int("completion_tokens", cost.CompletionTokens).
		Int("total_tokens", cost.TotalTokens).
		Float64("input_cost_usd", cost.InputCost).
		Float64("output_cost_usd", cost.OutputCost).
		Float64("total_cost_usd", cost.TotalCost).
		Msg("LLM usage")
	return cost.TotalCost
}
