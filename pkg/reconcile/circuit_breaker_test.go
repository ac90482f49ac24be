package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*DefaultCircuitBreaker, *time.Time, *[]CircuitBreakerState) {
	var states []CircuitBreakerState
	cb := NewDefaultCircuitBreaker(threshold, cooldown, func(state CircuitBreakerState) {
		states = append(states, state)
	})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now, &states
}

func TestDefaultCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _, states := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.Record(false)
		assert.Equal(t, StateClosed, cb.State())
	}

	// A healthy call resets the run.
	require.NoError(t, cb.Allow())
	cb.Record(true)
	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.Record(false)
	}
	assert.Equal(t, StateClosed, cb.State())

	require.NoError(t, cb.Allow())
	cb.Record(false)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
	assert.Equal(t, []CircuitBreakerState{StateOpen}, *states)
}

func TestDefaultCircuitBreaker_SingleTrialAfterCooldown(t *testing.T) {
	cb, now, states := newTestBreaker(1, time.Minute)

	require.NoError(t, cb.Allow())
	cb.Record(false)
	require.Equal(t, StateOpen, cb.State())

	*now = now.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Allow())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen, "only one trial may be outstanding")

	cb.Record(true)
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Allow())
	assert.Equal(t, []CircuitBreakerState{StateOpen, StateHalfOpen, StateClosed}, *states)
}

func TestDefaultCircuitBreaker_FailedTrialRestartsCooldown(t *testing.T) {
	cb, now, states := newTestBreaker(1, time.Minute)

	require.NoError(t, cb.Allow())
	cb.Record(false)

	*now = now.Add(time.Minute)
	require.NoError(t, cb.Allow())
	cb.Record(false)
	assert.Equal(t, StateOpen, cb.State())

	*now = now.Add(30 * time.Second)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	*now = now.Add(30 * time.Second)
	assert.NoError(t, cb.Allow())
	assert.Equal(t, []CircuitBreakerState{StateOpen, StateHalfOpen, StateOpen, StateHalfOpen}, *states)
}

func TestDefaultCircuitBreaker_LateResultsWhileOpenAreDropped(t *testing.T) {
	cb, _, _ := newTestBreaker(1, time.Minute)

	require.NoError(t, cb.Allow())
	require.NoError(t, cb.Allow())
	cb.Record(false)
	require.Equal(t, StateOpen, cb.State())

	cb.Record(true)
	assert.Equal(t, StateOpen, cb.State())
}

func TestNewDefaultCircuitBreaker_Defaults(t *testing.T) {
	cb := NewDefaultCircuitBreaker(0, 0, nil)
	assert.Equal(t, 5, cb.threshold)
	assert.Equal(t, 30*time.Second, cb.cooldown)
}
