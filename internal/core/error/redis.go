package errx

import (
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// WrapRedis maps Redis errors to AppError. A missing key becomes ErrNotFound;
// anything else is a persistence failure.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, redis.Nil) {
		return &AppError{Err: err, Status: http.StatusNotFound, Message: RedisErrorMessage, Kind: ErrNotFound}
	}

	return &AppError{
		Err:     err,
		Status:  http.StatusInternalServerError,
		Message: RedisErrorMessage,
		Kind:    ErrPersistence,
	}
}
