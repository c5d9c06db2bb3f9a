package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chative-relay/server/internal/agent/model"
	errx "github.com/chative-relay/server/internal/core/error"
	logx "github.com/chative-relay/server/pkg/logger"
)

// slidingWindow trims the sender's sorted set to the window, then admits the
// hit when fewer than capacity remain. Returns 1 when admitted.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if capacity > 0 and redis.call('ZCARD', key) >= capacity then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// Redis is a gate shared by every replica using the same Redis instance.
// Redis errors fail open: the event is processed and the error logged.
type Redis struct {
	rdb       redis.Cmdable
	window    time.Duration
	capacity  int
	retention time.Duration
	now       func() time.Time
}

func NewRedis(rdb redis.Cmdable, cfg model.GateConfig) *Redis {
	return &Redis{
		rdb:       rdb,
		window:    cfg.Window,
		capacity:  cfg.Capacity,
		retention: cfg.Retention,
		now:       time.Now,
	}
}

func (r *Redis) messageKey(messageID string) string {
	return fmt.Sprintf("gate:message:%s", messageID)
}

func (r *Redis) senderKey(senderID string) string {
	return fmt.Sprintf("gate:sender:%s:hits", senderID)
}

func (r *Redis) ShouldProcess(ctx context.Context, messageID, senderID string) bool {
	if messageID != "" {
		fresh, err := r.rdb.SetNX(ctx, r.messageKey(messageID), 1, r.retention).Result()
		if err != nil {
			logx.Warn().Err(errx.WrapRedis(err)).Str("message_id", messageID).Msg("dedup check failed; processing anyway")
		} else if !fresh {
			logx.Debug().Str("message_id", messageID).Msg("duplicate message dropped")
			return false
		}
	}

	admitted, err := slidingWindow.Run(ctx, r.rdb,
		[]string{r.senderKey(senderID)},
		r.now().UnixMilli(), r.window.Milliseconds(), r.capacity, uuid.NewString(),
	).Int()
	if err != nil {
		logx.Warn().Err(errx.WrapRedis(err)).Str("sender_id", senderID).Msg("rate check failed; processing anyway")
		return true
	}
	if admitted == 0 {
		// Dropped ids stay retryable.
		r.Forget(ctx, messageID)
		logx.Debug().Str("sender_id", senderID).Msg("sender rate limited")
		return false
	}
	return true
}

func (r *Redis) Forget(ctx context.Context, messageID string) {
	if messageID == "" {
		return
	}
	if err := r.rdb.Del(ctx, r.messageKey(messageID)).Err(); err != nil {
		logx.Warn().Err(errx.WrapRedis(err)).Str("message_id", messageID).Msg("failed to release message id")
	}
}

var _ Gate = (*Redis)(nil)
