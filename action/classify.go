package action

import (
	"context"
	"strings"

	"github.com/teranos/trellis/errors"
)

// Classify decides whether a delivery failure is worth retrying.
// Sentinel errors are checked first; the message patterns are a
// fallback for errors surfaced by collaborators that don't wrap our
// sentinels.
func Classify(err error) (retryable bool) {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, errors.ErrTimeout),
		errors.Is(err, errors.ErrServiceUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, errors.ErrInvalidRequest),
		errors.Is(err, errors.ErrNotFound):
		return false
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "too many requests"):
		return true
	case strings.Contains(msg, "invalid"),
		strings.Contains(msg, "validation"),
		strings.Contains(msg, "not found"),
		strings.Contains(msg, "unknown action"):
		return false
	}

	// Unknown failures default to retryable so a novel transient fault
	// is not dead-lettered on first sight.
	return true
}
