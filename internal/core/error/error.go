package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// MongoErrorMessage describes MongoDB related failures.
	MongoErrorMessage = "mongo operation failed"
)

// Pipeline failure kinds. Stages wrap these so the boundary can decide
// between a canned reply, a silent drop and a non-200 status.
var (
	ErrSignatureInvalid        = errors.New("webhook signature invalid")
	ErrDuplicateOrRateLimited  = errors.New("duplicate or rate limited")
	ErrUnsupportedMedia        = errors.New("unsupported media")
	ErrMediaTooLarge           = errors.New("media too large")
	ErrMediaDownloadFailed     = errors.New("media download failed")
	ErrAgentInactive           = errors.New("agent inactive")
	ErrAgentUnroutable         = errors.New("no routing id to resolve an agent")
	ErrGenerationFailed        = errors.New("generation failed")
	ErrGenerationNotConfigured = errors.New("generation not configured")
	ErrDeliveryFailed          = errors.New("delivery failed")
	ErrPersistence             = errors.New("persistence failed")
	ErrNotFound                = errors.New("record not found")
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
	Kind    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Wrap tags err with one of the sentinel kinds above.
func Wrap(kind, err error, status int) *AppError {
	msg := SystemErrorMessage
	if kind != nil {
		msg = kind.Error()
	}
	return &AppError{Err: err, Status: status, Message: msg, Kind: kind}
}

// WrapMongo tags a MongoDB error as a persistence failure.
func WrapMongo(err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Err:     err,
		Status:  http.StatusInternalServerError,
		Message: MongoErrorMessage,
		Kind:    ErrPersistence,
	}
}

// Is reports whether the target matches the kind or the underlying error.
func (e *AppError) Is(target error) bool {
	if e.Kind != nil && e.Kind == target {
		return true
	}
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}

// StatusOf maps an error to the status the webhook boundary should answer with.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrSignatureInvalid):
		return http.StatusForbidden
	case errors.Is(err, ErrPersistence):
		return http.StatusInternalServerError
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
