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
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// DBErrorMessage describes relational storage failures.
	DBErrorMessage = "database operation failed"
	// DecodeErrorMessage describes a model structured-output contract violation.
	DecodeErrorMessage = "structured output decoding failed"
)

// ErrDecode marks a structured-output decoding failure. It is a distinct kind
// from transport faults: callers may retry a bounded number of times against
// the model before surfacing it.
var ErrDecode = errors.New("structured output decode")

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
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

// NewDecode wraps a decoding failure so that errors.Is(err, ErrDecode) holds.
func NewDecode(err error) *AppError {
	return New(fmt.Errorf("%w: %w", ErrDecode, err), http.StatusUnprocessableEntity, DecodeErrorMessage)
}

// WrapDB wraps a relational storage error with a consistent status and message.
func WrapDB(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, DBErrorMessage)
}

// UserMessage returns the safe client-facing message for an error chain.
func UserMessage(err error) string {
	var ae *AppError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return SystemErrorMessage
}

// StatusOf returns the HTTP status for an error chain.
func StatusOf(err error) int {
	var ae *AppError
	if errors.As(err, &ae) && ae.Status != 0 {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
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
