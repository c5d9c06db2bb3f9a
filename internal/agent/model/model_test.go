package model

import (
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
)

func TestChatSessionLastMessageAt(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := ChatSession{StartedAt: start}
	assert.Equal(t, start, s.LastMessageAt())

	last := start.Add(30 * time.Minute)
	s.Messages = []Message{{Timestamp: start.Add(time.Minute)}, {Timestamp: last}}
	assert.Equal(t, last, s.LastMessageAt())
}

func TestProfileLastSessionID(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Profile{}.LastSessionID())
	assert.Equal(t, "s2", Profile{SessionIDs: []string{"s1", "s2"}}.LastSessionID())
}

func TestAgentRoutingIDs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"+1999", "123"}, Agent{PhoneNumber: "+1999", SocialLink: "123"}.RoutingIDs())
	assert.Empty(t, Agent{}.RoutingIDs())
}

func TestBaseContentType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "audio/ogg", BaseContentType("Audio/OGG; codecs=opus"))
	assert.Equal(t, "image/png", BaseContentType("image/png"))
}

func TestComputeCost(t *testing.T) {
	t.Parallel()

	c := ComputeCost("gemini-2.5-flash", &schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000, TotalTokens: 2_000_000})
	assert.InDelta(t, 0.30, c.InputCost, 1e-9)
	assert.InDelta(t, 2.50, c.OutputCost, 1e-9)
	assert.InDelta(t, 2.80, c.TotalCost, 1e-9)

	unknown := ComputeCost("mystery", &schema.TokenUsage{PromptTokens: 10})
	assert.Zero(t, unknown.TotalCost)
	assert.Equal(t, 10, unknown.PromptTokens)

	assert.Zero(t, ComputeCost("gemini-2.5-flash", nil).TotalTokens)
}
