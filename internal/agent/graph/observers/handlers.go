package observers

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/chative-relay/server/pkg/logger"
)

type startKey struct{}

// NewAllCallbacks returns the handlers attached to every generation run:
// node timing for the graph, then prompt and chat model logging.
func NewAllCallbacks() []einocb.Handler {
	componentHandler := callbackHelper.NewHandlerHelper().
		Prompt(newPromptHandler()).
		ChatModel(newModelHandler()).
		Handler()

	return []einocb.Handler{newNodeHandler(), componentHandler}
}

func newNodeHandler() einocb.Handler {
	return einocb.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackInput) context.Context {
			return context.WithValue(ctx, startKey{}, time.Now())
		}).
		OnEndFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackOutput) context.Context {
			logx.Debug().
				Str("node", info.Name).
				Str("component", string(info.Component)).
				Dur("elapsed", elapsed(ctx)).
				Msg("node done")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).
				Str("node", info.Name).
				Str("component", string(info.Component)).
				Dur("elapsed", elapsed(ctx)).
				Msg("node failed")
			return ctx
		}).
		Build()
}

func elapsed(ctx context.Context) time.Duration {
	if t, ok := ctx.Value(startKey{}).(time.Time); ok {
		return time.Since(t)
	}
	return 0
}
