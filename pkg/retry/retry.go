// Package retry provides retry policies for calls to remote backends.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/creastat/llmkit/pkg/logger"
	"github.com/creastat/llmkit/pkg/types"
)

// Policy runs op, possibly more than once
type Policy interface {
	Do(ctx context.Context, op func(ctx context.Context) error) error
}

// None runs the operation exactly once
var None Policy = noRetry{}

type noRetry struct{}

func (noRetry) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return op(ctx)
}

// Config configures exponential backoff
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Classify, when set, marks additional errors as permanent
	Classify func(error) bool
}

const (
	defaultMaxAttempts     = 3
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
)

// Backoff retries failed operations with exponential backoff and jitter
type Backoff struct {
	cfg    Config
	logger logger.Logger
}

// NewBackoff creates a backoff policy. Zero config values use defaults.
func NewBackoff(cfg Config, log logger.Logger) *Backoff {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	return &Backoff{cfg: cfg, logger: logger.OrNop(log)}
}

// Do implements Policy. Permanent errors and context cancellation stop the
// loop immediately; otherwise the last error is returned once attempts run out.
func (b *Backoff) Do(ctx context.Context, op func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.cfg.InitialInterval
	eb.MaxInterval = b.cfg.MaxInterval
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(b.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if b.isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		b.logger.Warn("retrying after error", "attempt", attempt, "wait", wait.String(), "error", err.Error())
	})
	return err
}

func (b *Backoff) isPermanent(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) || types.IsPermanent(err) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return b.cfg.Classify != nil && b.cfg.Classify(err)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
