package nodes

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/chative-relay/server/internal/agent/model"
)

func TestIsRecoverable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "sentinel", err: fmt.Errorf("call: %w", ErrModelUnavailable), want: true},
		{name: "not found value", err: genai.APIError{Code: 404}, want: true},
		{name: "rate limited pointer", err: &genai.APIError{Code: 429}, want: true},
		{name: "status only", err: genai.APIError{Status: "resource_exhausted"}, want: true},
		{name: "bad request", err: genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRecoverable(tt.err))
		})
	}
}

func TestResolveModel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "gemini-2.5-pro", ResolveModel(" gemini-2.5-pro ", "gemini-2.5-flash"))
	assert.Equal(t, "gemini-2.5-flash", ResolveModel("claude-sonnet-4", "gemini-2.5-flash"))
	assert.Equal(t, "gemini-2.5-flash", ResolveModel("", "gemini-2.5-flash"))
}

func TestNewGeminiInvokerRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewGeminiInvoker(context.Background(), ChatModelConfig{LLM: model.LLMConfig{}})
	require.Error(t, err)
}
