package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	errx "github.com/chative-relay/server/internal/core/error"
	logx "github.com/chative-relay/server/pkg/logger"
	"github.com/chative-relay/server/pkg/poll"
)

// ErrLockTimeout is returned when a profile lock could not be taken in time.
var ErrLockTimeout = errors.New("session lock wait exceeded")

// Locker serializes work per key. The returned release func is always safe
// to call.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker is a keyed mutex for a single process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyedLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, kl)
		return func() {}, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.unref(key, kl)
		})
	}, nil
}

func (l *LocalLocker) unref(key string, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// releaseIfOwner deletes the lock only while it still holds our token.
var releaseIfOwner = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker is a lease lock shared by replicas. A holder that outlives the
// TTL loses the lock silently.
type RedisLocker struct {
	rdb   redis.Cmdable
	ttl   time.Duration
	retry poll.Policy
}

func NewRedisLocker(rdb redis.Cmdable, ttl, wait time.Duration) *RedisLocker {
	interval := 50 * time.Millisecond
	attempts := int(wait / interval)
	if attempts < 1 {
		attempts = 1
	}
	return &RedisLocker{
		rdb:   rdb,
		ttl:   ttl,
		retry: poll.Policy{Interval: interval, MaxAttempts: attempts},
	}
}

func (r *RedisLocker) lockKey(key string) string {
	return fmt.Sprintf("session:lock:%s", key)
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := r.lockKey(key)
	token := uuid.NewString()

	_, _, err := poll.Until(ctx, r.retry, func(ctx context.Context, _ int) (struct{}, bool, error) {
		ok, err := r.rdb.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return struct{}{}, false, errx.WrapRedis(err)
		}
		return struct{}{}, ok, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return func() {}, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}
	if err != nil {
		return func() {}, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := releaseIfOwner.Run(ctx, r.rdb, []string{k}, token).Err(); err != nil {
				logx.Warn().Err(errx.WrapRedis(err)).Str("key", k).Msg("failed to release session lock")
			}
		})
	}, nil
}
