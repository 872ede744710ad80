package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	bs := NewBreakers(BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})
	b := bs.Get("cheap")

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(errors.New("fail"))
	}
	assert.Equal(t, CircuitOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	bs := NewBreakers(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	b := bs.Get("cheap")

	b.Record(errors.New("fail"))
	b.Record(nil)
	b.Record(errors.New("fail"))
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	now := time.Now()
	var transitions []string
	bs := NewBreakers(BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		OnStateChange: func(provider string, from, to CircuitState) {
			transitions = append(transitions, provider+":"+from.String()+"->"+to.String())
		},
	})
	bs.nowFunc = func() time.Time { return now }
	b := bs.Get("mid")

	require.NoError(t, b.Allow())
	b.Record(errors.New("fail"))
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	b.nowFunc = func() time.Time { return now.Add(2 * time.Minute) }
	require.NoError(t, b.Allow(), "cooldown elapsed, trial call allowed")
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "only one trial call at a time")

	b.Record(nil)
	assert.Equal(t, CircuitClosed, b.State())
	assert.Equal(t, []string{
		"mid:closed->open",
		"mid:open->half-open",
		"mid:half-open->closed",
	}, transitions)
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	now := time.Now()
	bs := NewBreakers(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	bs.nowFunc = func() time.Time { return now }
	b := bs.Get("mid")

	b.Record(errors.New("fail"))
	b.nowFunc = func() time.Time { return now.Add(2 * time.Minute) }
	require.NoError(t, b.Allow())
	b.Record(errors.New("still failing"))
	assert.Equal(t, CircuitOpen, b.State())
}

func TestBreakers_GetIsStable(t *testing.T) {
	bs := NewBreakers(DefaultBreakerConfig())
	assert.Same(t, bs.Get("a"), bs.Get("a"))
	assert.NotSame(t, bs.Get("a"), bs.Get("b"))
	assert.Len(t, bs.States(), 2)
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(0, 0)
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Cooldown)

	cfg = FromSettings(2, 10)
	assert.Equal(t, 2, cfg.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.Cooldown)
}
