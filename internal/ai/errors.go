package ai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/myrjola/amlnarrator/internal/errors"
)

var (
	// ErrTransient marks failures worth retrying: network trouble, rate limits and unavailable backends.
	ErrTransient = errors.NewSentinel("transient backend error")
	// ErrFatal marks failures that no retry can fix, such as invalid credentials or a malformed session.
	ErrFatal = errors.NewSentinel("fatal backend error")
)

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsFatal reports whether err is a configuration or session error.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

func transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func fatal(err error) error {
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// classifyStatus maps an HTTP status code of the completion API to the error taxonomy.
func classifyStatus(statusCode int, err error) error {
	switch {
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusConflict,
		statusCode == http.StatusTooManyRequests,
		statusCode >= http.StatusInternalServerError:
		return transient(err)
	case statusCode >= http.StatusBadRequest:
		return fatal(err)
	default:
		return transient(err)
	}
}

// classifyTransport handles errors that carry no HTTP status: connection resets, timeouts and truncated bodies.
// The caller's own cancellation is passed through untouched so that it is neither retried nor mistaken for a
// configuration problem.
func classifyTransport(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ctxErr, err)
	}
	return transient(err)
}
