package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
)

// Grader grades one submission. *grader.Engine implements it.
type Grader interface {
	Submit(ctx context.Context, req domain.ValidationRequest) *domain.ValidationResult
}

// RetryConfig controls how often a job is regraded while the sandbox is
// unavailable.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     15 * time.Second,
	}
}

var errRetryable = errors.New("sandbox unavailable")

// NewGradeHandler returns a handler that grades jobs with g. Results whose
// failure is retryable are regraded with exponential backoff; the last
// result is published either way.
func NewGradeHandler(g Grader, cfg RetryConfig) JobHandler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	retrier := retry.New[*domain.ValidationResult](retry.Config{
		MaxAttempts:   cfg.MaxAttempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable: func(err error) bool {
			return errors.Is(err, errRetryable)
		},
	})

	return func(ctx context.Context, job *GradeJob) (*GradeResult, error) {
		var (
			last     *domain.ValidationResult
			attempts int
		)
		_, err := retrier.Do(ctx, func(ctx context.Context) (*domain.ValidationResult, error) {
			attempts++
			last = g.Submit(ctx, job.Request())
			if last.FailureReason.Retryable() {
				slog.Warn("grading deferred, sandbox unavailable",
					"job_id", job.ID,
					"attempt", attempts,
					"diagnostics", last.Diagnostics,
				)
				return last, errRetryable
			}
			return last, nil
		})
		if last == nil {
			return nil, err
		}
		return &GradeResult{Status: StatusGraded, Result: last, Attempts: attempts}, nil
	}
}
