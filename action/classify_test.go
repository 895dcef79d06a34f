package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/trellis/errors"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"timeout sentinel", errors.ErrTimeout, true},
		{"unavailable sentinel", errors.ErrServiceUnavailable, true},
		{"wrapped unavailable", errors.Wrap(errors.ErrServiceUnavailable, "upstream"), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"invalid sentinel", errors.ErrInvalidRequest, false},
		{"not found sentinel", errors.ErrNotFound, false},
		{"wrapped not found", errors.NewNotFoundError("record x"), false},
		{"connection message", errors.New("dial tcp: connection refused"), true},
		{"network message", errors.New("network is unreachable"), true},
		{"rate limit message", errors.New("429 too many requests"), true},
		{"validation message", errors.New("validation failed on field status"), false},
		{"unknown action message", errors.New("unknown action type launch"), false},
		{"novel failure defaults retryable", errors.New("flux capacitor misaligned"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, Classify(tc.err))
		})
	}
}
