package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rendis/loom/internal/providers"
	"github.com/rendis/loom/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreakers(threshold int, cooldown time.Duration) *breakerRegistry {
	return newBreakerRegistry(breakerConfig{
		failureThreshold: threshold,
		cooldown:         cooldown,
		halfOpenMax:      1,
	})
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	r := newTestBreakers(3, time.Minute)

	for i := 0; i < 2; i++ {
		require.NoError(t, r.allow("m1"))
		r.failure("m1")
	}
	assert.Equal(t, circuitClosed, r.stateOf("m1"))

	require.NoError(t, r.allow("m1"))
	assert.Equal(t, circuitOpen, r.failure("m1"))

	err := r.allow("m1")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeProvider, schema.CodeOf(err))
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	r := newTestBreakers(3, time.Minute)

	r.failure("m1")
	r.failure("m1")
	r.success("m1")
	r.failure("m1")
	r.failure("m1")

	assert.Equal(t, circuitClosed, r.stateOf("m1"))
	assert.NoError(t, r.allow("m1"))
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	r := newTestBreakers(1, 10*time.Millisecond)

	r.failure("m1")
	require.Error(t, r.allow("m1"))

	time.Sleep(20 * time.Millisecond)

	// One test call is admitted, a second is not.
	require.NoError(t, r.allow("m1"))
	require.Error(t, r.allow("m1"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	r := newTestBreakers(1, 10*time.Millisecond)

	r.failure("m1")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.allow("m1"))

	assert.Equal(t, circuitOpen, r.failure("m1"))
	require.Error(t, r.allow("m1"))
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	r := newTestBreakers(1, 10*time.Millisecond)

	r.failure("m1")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.allow("m1"))

	r.success("m1")
	assert.Equal(t, circuitClosed, r.stateOf("m1"))
	assert.NoError(t, r.allow("m1"))
}

func TestBreaker_ModelsAreIndependent(t *testing.T) {
	r := newTestBreakers(1, time.Minute)

	r.failure("bad")
	require.Error(t, r.allow("bad"))
	assert.NoError(t, r.allow("good"))
}

func TestCallModel_OpenBreakerRejectsWithoutCalling(t *testing.T) {
	p := &scriptedProvider{fn: func(int, string) (string, error) {
		return "", schema.NewError(schema.ErrCodeProvider, "connection refused")
	}}
	x := newTestExecutor(p)
	x.providerAttempts = 1
	x.backoffBase = time.Millisecond
	x.breakers = newTestBreakers(2, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := x.callModel(context.Background(), "m1", p, "hi", providers.Options{})
		require.Error(t, err)
	}
	calls := p.count()

	_, err := x.callModel(context.Background(), "m1", p, "hi", providers.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, calls, p.count(), "open circuit short-circuits the call")
}
