package model

import (
	"github.com/cloudwego/eino/schema"
)

// GenerationState stores per-invocation state for the response graph.
// Concurrency model:
//   - Registered as graph local state via compose.WithGenLocalState.
//   - Read and written only inside state handlers or compose.ProcessState,
//     which eino serializes, so no mutex is needed.
type GenerationState struct {
	PrimaryModel  string
	FallbackModel string
	// Turns is the processed list sent to the primary model and reused
	// unchanged for the fallback attempt.
	Turns []*schema.Message
	// Invoked records every model id called during this run, in order.
	Invoked []string

	TotalCostUSD float64
}

// GenerationRequest is the graph input for one reply.
type GenerationRequest struct {
	Agent   Agent
	Text    string
	Media   *MediaInfo
	History []Message
}

// GenerationOutcome is emitted by each model node. Err is set instead of
// failing the graph so the fallback branch can inspect it. Invoked and
// CostUSD cover every model call of the run so far.
type GenerationOutcome struct {
	Message  *schema.Message
	Model    string
	Fallback bool
	Invoked  []string
	CostUSD  float64
	Err      error
}
