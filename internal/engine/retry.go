package engine

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/rendis/loom/internal/providers"
	"github.com/rendis/loom/pkg/schema"
)

const (
	defaultProviderAttempts = 3
	baseBackoff             = 500 * time.Millisecond
	maxBackoff              = 5 * time.Second
)

// permanentPatterns are provider failures that no retry will fix.
var permanentPatterns = []string{
	"unauthorized",
	"invalid api key",
	"forbidden",
	"bad request",
	"not found",
	"context length",
	"content filter",
}

// retryable classifies whether a model call failure is worth retrying.
// Transport errors and timeouts are; cancellation and anything the engine
// itself raised (validation, template, condition) is not.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var lerr *schema.LoomError
	if errors.As(err, &lerr) {
		if lerr.Code != schema.ErrCodeProvider {
			return false
		}
		msg := strings.ToLower(lerr.Error())
		for _, p := range permanentPatterns {
			if strings.Contains(msg, p) {
				return false
			}
		}
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// backoffDelay returns the exponential delay before retry attempt n,
// capped at maxBackoff.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// sleepBackoff waits out the delay or returns early on cancellation.
func sleepBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// callModel is the single entry point for model calls: the per-model circuit
// breaker gates admission, transient failures are retried with exponential
// backoff, and the final outcome feeds back into the breaker.
func (x *Executor) callModel(ctx context.Context, modelID string, p providers.Provider, prompt string, opts providers.Options) (string, error) {
	if err := x.breakers.allow(modelID); err != nil {
		return "", err
	}

	var out string
	var err error
	for attempt := 0; attempt < x.providerAttempts; attempt++ {
		if attempt > 0 {
			if werr := sleepBackoff(ctx, backoffDelay(x.backoffBase, attempt-1)); werr != nil {
				return "", schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(werr)
			}
			x.logger.WarnContext(ctx, "retrying model call",
				slog.String("model_id", modelID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}

		out, err = p.GenerateText(ctx, prompt, opts)
		if err == nil {
			x.breakers.success(modelID)
			return out, nil
		}
		if !retryable(err) {
			break
		}
	}

	x.breakers.failure(modelID)
	return "", err
}
