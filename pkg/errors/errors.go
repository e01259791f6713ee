// Package errors holds the sentinel errors shared by the crawler, the store
// and the API, and maps them to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUpstream         = errors.New("upstream request failed")
	ErrMalformedPayload = errors.New("malformed upstream payload")
	ErrUnknownKind      = errors.New("unknown subject kind")
	ErrStorage          = errors.New("storage failure")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

// AppError pins an explicit status code and a client-safe message to a
// sentinel. HTTPStatusCode and Message prefer it over sentinel matching.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// Newf builds an AppError with a formatted message.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{Err: sentinel, StatusCode: statusCode, Message: fmt.Sprintf(format, args...)}
}

// Transient reports whether a later crawl run may succeed where this one
// failed. The subject stays stale so the queue picks it up again.
func Transient(err error) bool {
	return errors.Is(err, ErrUpstream) || errors.Is(err, ErrMalformedPayload) || errors.Is(err, ErrStorage)
}

var statusBySentinel = []struct {
	sentinel error
	status   int
}{
	{ErrNotFound, http.StatusNotFound},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrUnknownKind, http.StatusBadRequest},
	{ErrRateLimited, http.StatusTooManyRequests},
	{ErrUpstream, http.StatusBadGateway},
	{ErrMalformedPayload, http.StatusBadGateway},
	{ErrTimeout, http.StatusServiceUnavailable},
}

// HTTPStatusCode maps err to a response status, 500 when nothing matches.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	for _, m := range statusBySentinel {
		if errors.Is(err, m.sentinel) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// Message returns text safe to show a client: the AppError message when
// there is one, the full error for client errors, and a generic phrase for
// server errors so storage details stay in the logs.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	if HTTPStatusCode(err) < http.StatusInternalServerError {
		return err.Error()
	}
	return http.StatusText(HTTPStatusCode(err))
}
