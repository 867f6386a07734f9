package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"bookviz-api/internal/domain/entity"
)

var (
	ErrNotImplemented = errors.New("provider not implemented")
	// ErrUnavailable covers unconfigured providers and open circuits.
	ErrUnavailable   = errors.New("provider unavailable")
	ErrUnknownHandle = errors.New("unknown generation handle")
	ErrNoImages      = errors.New("provider returned no images")
)

// Error is a failure reported by a backend. Transient errors may succeed on
// a later attempt; the others will not.
type Error struct {
	Provider   entity.Provider
	Code       string
	StatusCode int
	Message    string
	Transient  bool
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Provider, msg, e.Code)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying. Unclassified errors are
// treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotImplemented) || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return true
}

// statusError classifies a non-2xx HTTP response.
func statusError(p entity.Provider, status int, code, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{
		Provider:   p,
		Code:       code,
		StatusCode: status,
		Message:    message,
		Transient:  status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500,
	}
}

// transportError wraps a failure that never produced a response.
func transportError(p entity.Provider, err error) *Error {
	return &Error{Provider: p, Message: "request failed", Transient: !errors.Is(err, context.Canceled), Err: err}
}
