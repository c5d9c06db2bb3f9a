package errx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "signature", err: fmt.Errorf("verify: %w", ErrSignatureInvalid), want: http.StatusForbidden},
		{name: "redis", err: WrapRedis(errors.New("dial tcp")), want: http.StatusInternalServerError},
		{name: "mongo", err: WrapMongo(errors.New("timeout")), want: http.StatusInternalServerError},
		{name: "explicit status", err: New(nil, http.StatusBadRequest, "bad payload"), want: http.StatusBadRequest},
		{name: "plain", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}

func TestAppErrorMatchesKindAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := fmt.Errorf("append: %w", WrapMongo(cause))

	assert.True(t, errors.Is(err, ErrPersistence))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrNotFound))

	var appErr *AppError
	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, MongoErrorMessage, appErr.Message)
}

func TestWrapNil(t *testing.T) {
	t.Parallel()

	assert.NoError(t, WrapRedis(nil))
	assert.NoError(t, WrapMongo(nil))
}

func TestWrapRedisMissingKey(t *testing.T) {
	t.Parallel()

	err := WrapRedis(redis.Nil)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrPersistence))
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
}
