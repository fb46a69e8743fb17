package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/ratelimit"
)

// GuardConfig holds configuration for a guarded runtime
type GuardConfig struct {
	// MaxConcurrent bounds simultaneous runs (default: 4)
	MaxConcurrent int

	// QueueTimeout bounds how long a run waits for a free slot (default: 30s)
	QueueTimeout time.Duration

	// FailureThreshold is the number of consecutive infrastructure failures
	// that opens the circuit (default: 5). Zero or less disables the breaker.
	FailureThreshold int

	// OpenTimeout is how long the circuit stays open before probing again
	// (default: 30s)
	OpenTimeout time.Duration

	// LaunchesPerSecond limits container launches per language. Zero
	// disables rate limiting.
	LaunchesPerSecond int
}

// DefaultGuardConfig returns sensible defaults
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxConcurrent:    4,
		QueueTimeout:     30 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// GuardedRuntime wraps a runtime with a bulkhead that bounds concurrency, a
// circuit breaker that fails fast while the runtime is down, and an
// optional launch rate limit. Every rejection it produces wraps
// ErrUnavailable.
type GuardedRuntime struct {
	runtime   Runtime
	bulkhead  bulkhead.Bulkhead[*ExecResult]
	breaker   circuitbreaker.CircuitBreaker[*ExecResult]
	rateLimit ratelimit.RateLimiter
}

// Guard wraps a runtime with resilience patterns from fortify
func Guard(rt Runtime, cfg GuardConfig) *GuardedRuntime {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = 30 * time.Second
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	g := &GuardedRuntime{runtime: rt}

	g.bulkhead = bulkhead.New[*ExecResult](bulkhead.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxQueue:      cfg.MaxConcurrent * 16,
		QueueTimeout:  cfg.QueueTimeout,
	})

	if cfg.FailureThreshold > 0 {
		threshold := cfg.FailureThreshold
		g.breaker = circuitbreaker.New[*ExecResult](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return int(counts.ConsecutiveFailures) >= threshold
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				slog.Warn("sandbox circuit breaker state change",
					"runtime", rt.Name(),
					"from", from.String(),
					"to", to.String())
			},
		})
	}

	if cfg.LaunchesPerSecond > 0 {
		g.rateLimit = ratelimit.New(&ratelimit.Config{
			Rate:     cfg.LaunchesPerSecond,
			Burst:    cfg.LaunchesPerSecond * 2,
			Interval: time.Second,
		})
	}

	return g
}

// Name returns the wrapped runtime's name
func (g *GuardedRuntime) Name() string {
	return g.runtime.Name()
}

// Exec runs a job through the rate limiter, breaker and bulkhead.
func (g *GuardedRuntime) Exec(ctx context.Context, job Job) (*ExecResult, error) {
	if g.rateLimit != nil && !g.rateLimit.Allow(ctx, job.Language) {
		return nil, fmt.Errorf("%w: launch rate exceeded for %s", ErrUnavailable, job.Language)
	}

	operation := func(ctx context.Context) (*ExecResult, error) {
		return g.bulkhead.Execute(ctx, func(ctx context.Context) (*ExecResult, error) {
			return g.runtime.Exec(ctx, job)
		})
	}

	var (
		res *ExecResult
		err error
	)
	if g.breaker != nil {
		res, err = g.breaker.Execute(ctx, operation)
	} else {
		res, err = operation(ctx)
	}
	if err == nil {
		return res, nil
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("sandbox run: %w", ctx.Err())
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrInvalidJob) {
		return nil, err
	}
	// Rejections from the breaker or the bulkhead itself.
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Close releases the rate limiter and closes the wrapped runtime.
func (g *GuardedRuntime) Close() error {
	if g.rateLimit != nil {
		if err := g.rateLimit.Close(); err != nil {
			slog.Warn("failed to close rate limiter", "error", err)
		}
	}
	return g.runtime.Close()
}
