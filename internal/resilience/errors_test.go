package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.False(t, IsTimeout(errors.New("bad request")))
	assert.False(t, IsTimeout(nil))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"429", NewStatusError(errors.New("rate limited"), 429), true},
		{"503", NewStatusError(errors.New("unavailable"), 503), true},
		{"400", NewStatusError(errors.New("bad request"), 400), false},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"dns", errors.New("dial tcp: lookup api: no such host"), true},
		{"plain", errors.New("invalid prompt"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
