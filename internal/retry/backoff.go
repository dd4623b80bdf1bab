package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"beam/internal/models"
)

// BackoffConfig contains configuration for exponential backoff
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxAttempts  int           `json:"max_attempts"`
	Jitter       bool          `json:"jitter"`
}

// DefaultBackoffConfig is used for connecting to storage backends at startup
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// FromConfig builds a BackoffConfig from the retry section of the server config,
// keeping defaults for unset fields
func FromConfig(cfg models.RetryConfig) BackoffConfig {
	bc := DefaultBackoffConfig()
	if cfg.InitialBackoffMs > 0 {
		bc.InitialDelay = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		bc.MaxDelay = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}
	if cfg.MaxAttempts > 0 {
		bc.MaxAttempts = cfg.MaxAttempts
	}
	return bc
}

// Backoff implements exponential backoff with optional jitter
type Backoff struct {
	config BackoffConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewBackoff creates a new exponential backoff instance
func NewBackoff(config BackoffConfig) *Backoff {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &Backoff{config: config, sleep: sleepContext}
}

// Retry runs operation until it succeeds, attempts run out or ctx is done
func (b *Backoff) Retry(ctx context.Context, operation func(ctx context.Context) error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate is Retry that stops early on errors isRetryable rejects
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func(ctx context.Context) error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == b.config.MaxAttempts {
			break
		}

		if err := b.sleep(ctx, b.calculateDelay(attempt)); err != nil {
			return err
		}
	}

	return lastErr
}

// GetNextDelay returns the delay that would follow the given attempt
func (b *Backoff) GetNextDelay(attempt int) time.Duration {
	return b.calculateDelay(attempt)
}

func (b *Backoff) calculateDelay(attempt int) time.Duration {
	delay := float64(b.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= b.config.Multiplier
		if delay > float64(b.config.MaxDelay) {
			break
		}
	}
	if delay > float64(b.config.MaxDelay) {
		delay = float64(b.config.MaxDelay)
	}

	// ±25%
	if b.config.Jitter {
		delay += (rand.Float64() - 0.5) * 0.5 * delay
		if delay > float64(b.config.MaxDelay) {
			delay = float64(b.config.MaxDelay)
		}
	}

	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
