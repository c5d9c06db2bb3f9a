package nodes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/chative-relay/server/internal/agent/model"
	logx "github.com/chative-relay/server/pkg/logger"
)

// ErrModelUnavailable marks an invocation failure that the fallback model may
// recover from.
var ErrModelUnavailable = errors.New("model unavailable")

// Invoker calls a chat model by id.
type Invoker interface {
	Generate(ctx context.Context, modelID string, msgs []*schema.Message) (*schema.Message, error)
}

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey  string
	BaseURL string
	LLM     model.LLMConfig
}

// GeminiInvoker lazily builds one Gemini chat model per model id on a shared
// genai client.
type GeminiInvoker struct {
	client *genai.Client
	llm    model.LLMConfig

	mu     sync.Mutex
	models map[string]*gemini.ChatModel
}

// NewGeminiInvoker creates the genai client. The API key must be non-empty.
func NewGeminiInvoker(ctx context.Context, config ChatModelConfig) (*GeminiInvoker, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	return &GeminiInvoker{
		client: client,
		llm:    config.LLM,
		models: make(map[string]*gemini.ChatModel),
	}, nil
}

func (g *GeminiInvoker) chatModel(ctx context.Context, modelID string) (*gemini.ChatModel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cm, ok := g.models[modelID]; ok {
		return cm, nil
	}

	temperature := g.llm.Temperature
	maxTokens := g.llm.MaxTokens
	cm, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      g.client,
		Model:       modelID,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Str("model", modelID).Msg("Error creating chat model")
		return nil, fmt.Errorf("error creating chat model %s: %w", modelID, err)
	}
	g.models[modelID] = cm
	return cm, nil
}

func (g *GeminiInvoker) Generate(ctx context.Context, modelID string, msgs []*schema.Message) (*schema.Message, error) {
	cm, err := g.chatModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	return cm.Generate(ctx, msgs)
}

// IsRecoverable reports whether a failed primary call should be retried on
// the fallback model: unknown model, overload or quota exhaustion.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrModelUnavailable) {
		return true
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return recoverableAPIError(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return recoverableAPIError(*apiErrPtr)
	}
	return false
}

func recoverableAPIError(e genai.APIError) bool {
	switch e.Code {
	case http.StatusNotFound, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	switch strings.ToUpper(e.Status) {
	case "NOT_FOUND", "UNAVAILABLE", "RESOURCE_EXHAUSTED":
		return true
	}
	return false
}
