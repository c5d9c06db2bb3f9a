// Package delivery sends replies through the originating channel and falls
// back to an inline webhook reply when the channel supports one.
package delivery

import (
	"context"
	"net/http"

	"github.com/chative-relay/server/internal/agent/channel"
	"github.com/chative-relay/server/internal/agent/model"
	errx "github.com/chative-relay/server/internal/core/error"
	logx "github.com/chative-relay/server/pkg/logger"
)

// Result describes how a reply left the system. Inline is set when the
// webhook response must carry the reply.
type Result struct {
	Delivered bool
	Inline    *channel.InlineReply
	Err       error
}

// Deliver never returns an error past its boundary: failures are reported
// in Result and logged.
func Deliver(ctx context.Context, a channel.Adapter, ev model.InboundEvent, text string) Result {
	if text == "" {
		return Result{Delivered: true}
	}

	log := logx.Info().
		Str("channel", string(ev.Channel)).
		Str("message_id", ev.MessageID).
		Str("sender_id", ev.SenderID)
	if !a.Configured() {
		log.Str("reply", text).Msg("send credentials not configured; reply logged only")
		return Result{Delivered: true}
	}

	err := a.Send(ctx, ev.RoutingID, ev.SenderID, text)
	if err == nil {
		log.Msg("reply sent")
		return Result{Delivered: true}
	}
	sendErr := errx.Wrap(errx.ErrDeliveryFailed, err, http.StatusOK)

	if r, ok := a.(channel.InlineReplier); ok {
		inline := r.InlineReply(text)
		logx.Warn().Err(err).
			Str("channel", string(ev.Channel)).
			Str("message_id", ev.MessageID).
			Msg("send failed; replying inline")
		return Result{Delivered: true, Inline: &inline, Err: sendErr}
	}

	logx.Error().Err(err).
		Str("channel", string(ev.Channel)).
		Str("message_id", ev.MessageID).
		Str("sender_id", ev.SenderID).
		Str("reply", text).
		Msg("reply lost: send failed and channel has no inline reply")
	return Result{Delivered: false, Err: sendErr}
}
