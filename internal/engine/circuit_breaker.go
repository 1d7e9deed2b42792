package engine

import (
	"sync"
	"time"

	"github.com/rendis/loom/pkg/schema"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type breakerConfig struct {
	// failureThreshold is the number of consecutive failures before the
	// circuit opens.
	failureThreshold int
	// cooldown is how long the circuit stays open before a test call is let
	// through.
	cooldown time.Duration
	// halfOpenMax is the number of test calls allowed while half-open.
	halfOpenMax int
}

func defaultBreakerConfig() breakerConfig {
	return breakerConfig{
		failureThreshold: 5,
		cooldown:         30 * time.Second,
		halfOpenMax:      1,
	}
}

// modelBreaker tracks failure state for a single model.
type modelBreaker struct {
	mu                  sync.Mutex
	state               circuitState
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenAttempts    int
	cfg                 breakerConfig
}

// breakerRegistry keeps one circuit breaker per model id, so a model backend
// that keeps failing stops being called while the rest stay usable.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*modelBreaker
	cfg      breakerConfig
}

func newBreakerRegistry(cfg breakerConfig) *breakerRegistry {
	return &breakerRegistry{
		breakers: make(map[string]*modelBreaker),
		cfg:      cfg,
	}
}

// allow reports whether a call to the model may proceed. An open circuit
// rejects with PROVIDER_ERROR until the cooldown elapses, then admits a
// limited number of test calls.
func (r *breakerRegistry) allow(modelID string) error {
	b := r.getOrCreate(modelID)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case circuitClosed:
		return nil

	case circuitOpen:
		if time.Since(b.lastFailure) >= b.cfg.cooldown {
			b.state = circuitHalfOpen
			b.halfOpenAttempts = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeProvider,
			"model %q unavailable: %d consecutive failures, circuit open",
			modelID, b.consecutiveFailures).
			WithDetails(map[string]any{
				"model_id":             modelID,
				"state":                b.state.String(),
				"consecutive_failures": b.consecutiveFailures,
				"cooldown_remaining":   (b.cfg.cooldown - time.Since(b.lastFailure)).String(),
			})

	case circuitHalfOpen:
		if b.halfOpenAttempts >= b.cfg.halfOpenMax {
			return schema.NewErrorf(schema.ErrCodeProvider,
				"model %q unavailable: circuit half-open, test call in flight", modelID)
		}
		b.halfOpenAttempts++
		return nil
	}

	return nil
}

// success resets the model's breaker to closed.
func (r *breakerRegistry) success(modelID string) {
	b := r.getOrCreate(modelID)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.halfOpenAttempts = 0
	b.state = circuitClosed
}

// failure records a failed call and returns the resulting state. Any failure
// while half-open reopens the circuit.
func (r *breakerRegistry) failure(modelID string) circuitState {
	b := r.getOrCreate(modelID)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailure = time.Now()

	if b.state == circuitHalfOpen || b.consecutiveFailures >= b.cfg.failureThreshold {
		b.state = circuitOpen
	}
	return b.state
}

func (r *breakerRegistry) stateOf(modelID string) circuitState {
	b := r.getOrCreate(modelID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == circuitOpen && time.Since(b.lastFailure) >= b.cfg.cooldown {
		b.state = circuitHalfOpen
		b.halfOpenAttempts = 0
	}
	return b.state
}

func (r *breakerRegistry) getOrCreate(modelID string) *modelBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[modelID]
	if !ok {
		b = &modelBreaker{state: circuitClosed, cfg: r.cfg}
		r.breakers[modelID] = b
	}
	return b
}
