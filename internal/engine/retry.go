package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"botflow/internal/interrupt"
	"botflow/internal/llm"
	"botflow/internal/state"
)

// withRetry wraps one node execution with the engine's uniform retry
// policy: bounded attempts, exponential backoff with jitter, and the
// server's Retry-After hint when a transient provider error carries one.
// Control signals and permanent failures are never retried.
func (slf *Engine) withRetry(ctx context.Context, nodeID string, fn func(context.Context) (*state.Delta, error)) (*state.Delta, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = slf.cfg.InitialBackoff
	bo.MaxInterval = slf.cfg.MaxBackoff
	bo.Reset()

	for attempt := 1; ; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if slf.cfg.NodeTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, slf.cfg.NodeTimeout)
		}
		delta, err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return delta, nil
		}
		if isSignal(err) {
			return nil, err
		}

		var transient *llm.TransientError
		if !errors.As(err, &transient) || attempt >= slf.cfg.MaxAttempts {
			return nil, err
		}

		wait := bo.NextBackOff()
		if transient.RetryAfter > 0 {
			wait = transient.RetryAfter
		}
		slf.logger.Warn().
			Err(err).
			Str("nodeId", nodeID).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Transient node failure, retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func isSignal(err error) bool {
	if _, ok := interrupt.AsAbort(err); ok {
		return true
	}
	if _, ok := interrupt.AsRequireOutputs(err); ok {
		return true
	}
	return interrupt.IsWait(err)
}
