// Package retry re-runs infrastructure calls that fail transiently.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/faceid/internal/logging"
)

// Policy bounds the number of tries and the exponential backoff between them.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Quiet errors end the loop without an error log, e.g. cache misses.
	Quiet func(error) bool
}

// DefaultPolicy is three tries starting at 50ms, capped at one second.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}
}

// Do runs fn until it succeeds, fails permanently or the policy is exhausted.
// Any returned error is a *logging.OperationError for operation and attemptID.
func (p Policy) Do(ctx context.Context, logger *zap.Logger, operation, attemptID string, fn func() error) error {
	opLogger := logging.WithOperation(logger, operation, attemptID)
	backoff := p.InitialBackoff
	tries := p.Attempts
	if tries < 1 {
		tries = 1
	}

	var err error
	for attempt := 1; attempt <= tries; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return logging.NewOperationError(operation, attemptID, ctx.Err())
			case <-timer.C:
			}
			if next := backoff * 2; next <= p.MaxBackoff {
				backoff = next
			}
		}

		if err = fn(); err == nil {
			if attempt > 1 {
				opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}

		if attempt < tries && IsTransient(err) {
			opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt))
			continue
		}
		if p.Quiet == nil || !p.Quiet(err) {
			opLogger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt))
		}
		break
	}
	return logging.NewOperationError(operation, attemptID, err)
}

// IsTransient reports whether err is worth another try: deadlines, timeouts
// and errors that declare themselves temporary.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
