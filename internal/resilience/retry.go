package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
)

// Retry configuration constants
const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
	DefaultJitterFactor = 0.2

	// Model calls sit on a periodic tick, so they get fewer, shorter retries.
	ModelMaxRetries = 2
	ModelBaseDelay  = 250 * time.Millisecond
	ModelMaxDelay   = 2 * time.Second
)

// RetryConfig holds retry settings.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool
}

// DefaultRetryConfig returns standard retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsRetryable,
	}
}

// ModelRetryConfig returns settings for collaborator calls made on the insight tick.
func ModelRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   ModelMaxRetries,
		BaseDelay:    ModelBaseDelay,
		MaxDelay:     ModelMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsRetryable,
	}
}

// IsRetryable accepts typed AppErrors and gRPC statuses worth another attempt.
// Unknown errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOpen) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return apperrors.IsRetryable(err)
	}
	s, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// Retry executes fn with exponential backoff. Returns last error if all retries fail.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if !cfg.IsRetryable(lastErr) || attempt == cfg.MaxRetries {
			return lastErr
		}

		delay := backoffDelay(cfg, attempt)
		slog.Debug("retrying after error", "attempt", attempt+1, "max", cfg.MaxRetries, "delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// Forever runs fn until ctx is done, waiting a fixed backoff after every return.
// fn is expected to block while healthy and return when its resource fails.
// onErr, when set, sees each failure before the backoff.
func Forever(ctx context.Context, backoff time.Duration, fn func(context.Context) error, onErr func(error)) {
	for ctx.Err() == nil {
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && onErr != nil {
			onErr(err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << min(attempt, 6)
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	jitter := float64(delay) * cfg.JitterFactor * (rand.Float64() - 0.5)
	return time.Duration(float64(delay) + jitter)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsRetryable
	}
	return c
}
