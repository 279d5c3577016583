package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Failure classes. Every error returned by the Helix helpers matches exactly one
// of these (or context.Canceled / context.DeadlineExceeded) under errors.Is.
// ErrMalformedResponse is only for bodies that did not decode into the
// expected shape; a rejected request is ErrUnauthorized or ErrTransient.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrMalformedResponse = errors.New("malformed response")
	ErrTransient         = errors.New("transient failure")
	ErrUserNotFound      = errors.New("user not found")
)

// APIError is a non-2xx Helix response.
type APIError struct {
	Endpoint string
	Status   int
	Title    string // "error" field of the Helix error body
	Message  string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Title
	}
	return fmt.Sprintf("helix %s: status %d: %s", e.Endpoint, e.Status, msg)
}

// Unwrap maps the status onto a failure class. Whether the request is worth
// retrying is decided by status, not class.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrUnauthorized
	}
	return ErrTransient
}

// FetchError wraps a transport or decoding failure with its class.
type FetchError struct {
	Endpoint string
	Class    error
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("helix %s: %v: %v", e.Endpoint, e.Class, e.Err)
}

func (e *FetchError) Unwrap() []error { return []error{e.Class, e.Err} }

// Classify returns a short label for err suitable for logs and metric labels.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrUserNotFound):
		return "not_found"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "unknown"
	}
}

// logFetchFailure logs a fetch that stopped early. Malformed data is logged at error
// level since retrying will not help; everything else is a warning.
func logFetchFailure(ctx context.Context, msg string, err error, attrs ...any) {
	attrs = append(attrs, slog.String("class", Classify(err)), slog.Any("err", err))
	lvl := slog.LevelWarn
	if errors.Is(err, ErrMalformedResponse) {
		lvl = slog.LevelError
	}
	slog.Log(ctx, lvl, msg, attrs...)
}
