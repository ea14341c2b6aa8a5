package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls the bounded exponential-backoff-with-jitter loop.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	JitterFraction float64
	// ShouldRetry decides whether an error is worth another attempt.
	ShouldRetry func(error) bool
	OnRetry     func(attempt int, err error)
}

// DefaultRetryConfig matches the spec's defaults: up to 3 attempts,
// exponential backoff with a uniform jitter term.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 1.0,
		ShouldRetry:    IsTransient,
	}
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	d := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = d.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = d.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = d.Multiplier
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = d.ShouldRetry
	}
	return cfg
}

// computeBackoff returns base*multiplier^attempt, capped at MaxBackoff,
// plus uniform jitter in [0, base).
func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	d := time.Duration(float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt)))
	if d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(cfg.InitialBackoff)) )
	return d + jitter
}

// Do runs fn, retrying per cfg until it succeeds, ShouldRetry says no, or
// attempts are exhausted. The context governs cancellation of both the
// call and any sleep between attempts.
func Do(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	cfg = applyDefaults(cfg)
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, lastErr)
			}
			d := computeBackoff(attempt-1, cfg)
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !cfg.ShouldRetry(err) {
			return err
		}
	}
	return lastErr
}

// DoVal is the generic value-returning variant of Do.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

// RetryLogger builds an OnRetry callback that logs each retry with the
// service/operation labels the metrics layer also uses.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying after transient failure",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
