package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/chative-relay/server/pkg/logger"
)

// newModelHandler logs the turns sent to a chat model and the reply.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			if input == nil {
				return ctx
			}
			logx.Debug().
				Str("model", info.Name).
				Int("turns", len(input.Messages)).
				Str("user", lastUserContent(input.Messages)).
				Msg("model start")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			if output != nil && output.Message != nil {
				logx.Debug().
					Str("model", info.Name).
					Str("assistant", strings.TrimSpace(output.Message.Content)).
					Msg("model end")
			}
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("model", info.Name).Msg("model error")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil || m.Role != schema.User {
			continue
		}
		if c := strings.TrimSpace(m.Content); c != "" {
			return c
		}
		for _, part := range m.MultiContent {
			if part.Type == schema.ChatMessagePartTypeText {
				return strings.TrimSpace(part.Text)
			}
		}
		return ""
	}
	return ""
}
