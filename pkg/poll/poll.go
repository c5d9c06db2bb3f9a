// Package poll runs a check on a fixed interval until it reports a terminal
// state or the attempt ceiling is reached.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when every attempt ran without reaching a terminal state.
var ErrExhausted = errors.New("poll: attempts exhausted")

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy bounds a poll loop.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	Sleep       Sleeper
}

// Check is called once per attempt. done=true ends the loop with the returned
// value; a non-nil error also ends it.
type Check[T any] func(ctx context.Context, attempt int) (value T, done bool, err error)

// Until calls check at most MaxAttempts times, sleeping Interval between
// calls. It always returns: a terminal value, the check's error, the context
// error or ErrExhausted.
func Until[T any](ctx context.Context, p Policy, check Check[T]) (T, int, error) {
	var zero T
	if p.MaxAttempts <= 0 {
		return zero, 0, ErrExhausted
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		v, done, err := check(ctx, attempt)
		if err != nil {
			return zero, attempt, err
		}
		if done {
			return v, attempt, nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return zero, attempt, err
		}
	}
	return zero, p.MaxAttempts, ErrExhausted
}
