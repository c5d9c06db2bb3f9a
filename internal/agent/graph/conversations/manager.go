package conversations

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/chative-relay/server/internal/agent/model"
)

const (
	imagePromptDefault = "I've sent you an image. Please analyze what you see and provide a thoughtful response about the content, context, or any questions I might have about this image."
)

// TurnBuilder turns stored session messages plus the current inbound content
// into the ordered turn list sent to the model.
type TurnBuilder struct {
	historyLimit int
}

func NewTurnBuilder(config model.LLMConfig) *TurnBuilder {
	return &TurnBuilder{historyLimit: config.HistoryLimit}
}

// Build returns the merged turns: the last historyLimit stored messages,
// oldest first, followed by the current user turn.
func (tb *TurnBuilder) Build(history []model.Message, text string, media *model.MediaInfo) []*schema.Message {
	recent := trimTail(history, tb.historyLimit)

	turns := make([]*schema.Message, 0, len(recent)+1)
	for _, m := range recent {
		if m.Role == model.RoleUser {
			turns = append(turns, schema.UserMessage(m.Content))
		} else {
			turns = append(turns, schema.AssistantMessage(m.Content, nil))
		}
	}
	turns = append(turns, CurrentTurn(text, media))

	return MergeTurns(turns)
}

// CurrentTurn renders the inbound message as a user turn. Images become a
// text+image multimodal turn; other media are described in text.
func CurrentTurn(text string, media *model.MediaInfo) *schema.Message {
	if media == nil {
		return schema.UserMessage(text)
	}

	switch media.Kind {
	case model.MediaImage:
		prompt := text
		if prompt == "" {
			prompt = imagePromptDefault
		}
		if media.DerivedText != "" {
			prompt += fmt.Sprintf(" [Additional context from automated analysis: %s]", media.DerivedText)
		}
		if media.Base64 == "" {
			return schema.UserMessage(prompt)
		}
		return &schema.Message{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: prompt},
				{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL:      fmt.Sprintf("data:%s;base64,%s", media.ContentType, media.Base64),
						MIMEType: media.ContentType,
					},
				},
			},
		}

	case model.MediaAudio:
		if media.Transcribed {
			if text != "" {
				return schema.UserMessage(fmt.Sprintf("%s [I also sent an audio message that says: \"%s\"]", text, media.DerivedText))
			}
			return schema.UserMessage(fmt.Sprintf("I sent you an audio message that says: \"%s\". Please respond to what I said in the audio.", media.DerivedText))
		}
		if text != "" {
			return schema.UserMessage(fmt.Sprintf("%s [Note: I also sent an audio file (%s, %.1fKB) but it couldn't be processed. Please respond to my text message.]",
				text, media.ContentType, media.SizeKB()))
		}
		return schema.UserMessage(fmt.Sprintf("I sent you an audio message (%s, %.1fKB). The audio couldn't be processed, but please acknowledge that you received it and ask me to describe what I said if you'd like to help.",
			media.ContentType, media.SizeKB()))

	default:
		if text != "" {
			return schema.UserMessage(fmt.Sprintf("%s [Note: I also sent a file (%s, %.1fKB). Please respond to my text message and let me know if you need me to describe the file content.]",
				text, media.ContentType, media.SizeKB()))
		}
		return schema.UserMessage(fmt.Sprintf("I sent you a file (%s, %.1fKB). Please let me know what you'd like to do with this file or if you need me to describe its content.",
			media.ContentType, media.SizeKB()))
	}
}

// MergeTurns collapses adjacent same-role turns. Text turns are joined with a
// newline; when either side is multimodal the later turn wins. Empty turns
// are dropped.
func MergeTurns(turns []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		if t == nil || (strings.TrimSpace(t.Content) == "" && len(t.MultiContent) == 0) {
			continue
		}
		n := len(out)
		if n == 0 || out[n-1].Role != t.Role {
			out = append(out, t)
			continue
		}
		prev := out[n-1]
		if len(prev.MultiContent) == 0 && len(t.MultiContent) == 0 {
			out[n-1] = &schema.Message{Role: t.Role, Content: prev.Content + "\n" + t.Content}
		} else {
			out[n-1] = t
		}
	}
	return out
}

// ====================== Helper function ======================
func trimTail(messages []model.Message, maxTurns int) []model.Message {
	if maxTurns <= 0 || len(messages) <= maxTurns {
		return messages
	}
	return messages[len(messages)-maxTurns:]
}
