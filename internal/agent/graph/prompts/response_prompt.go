package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-relay/server/internal/agent/model"
)

// DefaultAgentPrompt is used when the agent record carries no prompt.
const DefaultAgentPrompt = "You are a helpful AI assistant."

//go:embed template/response_prompt.txt
var coreSystemPrompt string

// RenderResponseSystem renders the agent's system prompt plus a note about the
// attached media, and triggers prompt callbacks.
func RenderResponseSystem(ctx context.Context, agent model.Agent, media *model.MediaInfo) (string, error) {
	agentPrompt := strings.TrimSpace(agent.Prompt)
	if agentPrompt == "" {
		agentPrompt = DefaultAgentPrompt
	}

	// Render via Eino prompt component (Go template) to both format and emit callbacks
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(coreSystemPrompt),
	)
	vars := map[string]any{
		"AgentPrompt": agentPrompt,
		"MediaNote":   MediaNote(media),
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("response prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("response prompt render: empty result")
	}
	return strings.TrimSpace(msgs[0].Content), nil
}

// MediaNote tells the model how to treat the attachment. Empty without media.
func MediaNote(media *model.MediaInfo) string {
	if media == nil {
		return ""
	}
	switch media.Kind {
	case model.MediaImage:
		return fmt.Sprintf("The user has sent an image (%s). Use your vision capabilities to analyze the image and provide relevant insights or answers about what you see.", media.ContentType)
	case model.MediaAudio:
		return fmt.Sprintf("The user has sent an audio file (%s). While you cannot directly process audio, acknowledge receipt and respond helpfully to any accompanying text or ask for clarification about the audio content.", media.ContentType)
	default:
		return fmt.Sprintf("The user has sent a file (%s). Respond appropriately to any accompanying text and offer assistance with the file if relevant.", media.ContentType)
	}
}
