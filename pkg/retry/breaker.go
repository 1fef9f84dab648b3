package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/creastat/llmkit/pkg/logger"
	"github.com/creastat/llmkit/pkg/types"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker behavior.
type BreakerConfig struct {
	Name string
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before going half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing counts.
	Interval time.Duration
}

// CircuitBreaker wraps another policy. Once the inner policy has failed
// MaxFailures times in a row the circuit opens and calls fail fast.
type CircuitBreaker struct {
	inner   Policy
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewCircuitBreaker wraps inner (None when nil) with a circuit breaker
func NewCircuitBreaker(inner Policy, cfg BreakerConfig, log logger.Logger) *CircuitBreaker {
	if inner == nil {
		inner = None
	}
	log = logger.OrNop(log)

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}
	name := cfg.Name
	if name == "" {
		name = "backend"
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// caller mistakes say nothing about backend health
			return err == nil || isCallerError(err)
		},
	})

	return &CircuitBreaker{inner: inner, breaker: cb}
}

// Do implements Policy
func (c *CircuitBreaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.inner.Do(ctx, op)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Permanent(fmt.Errorf("%s circuit open: %w", c.breaker.Name(), err))
	}
	return err
}

// State returns the current breaker state
func (c *CircuitBreaker) State() gobreaker.State {
	return c.breaker.State()
}

func isCallerError(err error) bool {
	return types.IsPermanent(err) || errors.Is(err, context.Canceled)
}
