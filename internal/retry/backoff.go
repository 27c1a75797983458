package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"meshbridge/internal/models"
)

// BackoffConfig contains configuration for exponential backoff
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int // 0 means retry until the context ends
	Jitter       bool
}

// DefaultBackoffConfig returns a sensible default configuration
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// FromConfig builds a backoff config from the retry section of the
// service configuration. Zero values fall back to the defaults.
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
	config  BackoffConfig
	onRetry func(attempt int, delay time.Duration, err error)
}

// NewBackoff creates a new exponential backoff instance
func NewBackoff(config BackoffConfig) *Backoff {
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &Backoff{config: config}
}

// OnRetry registers a hook called before each wait. Used for logging.
func (b *Backoff) OnRetry(fn func(attempt int, delay time.Duration, err error)) *Backoff {
	b.onRetry = fn
	return b
}

// Retry executes the operation until it succeeds, attempts run out or ctx ends.
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate is Retry, stopping early on errors isRetryable rejects.
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func() error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 1; b.config.MaxAttempts <= 0 || attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == b.config.MaxAttempts {
			return err
		}

		delay := b.calculateDelay(attempt)
		if b.onRetry != nil {
			b.onRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// GetNextDelay returns the delay that would be used after the given attempt
func (b *Backoff) GetNextDelay(attempt int) time.Duration {
	return b.calculateDelay(attempt)
}

func (b *Backoff) calculateDelay(attempt int) time.Duration {
	delay := float64(b.config.InitialDelay) * math.Pow(b.config.Multiplier, float64(attempt-1))
	if delay > float64(b.config.MaxDelay) || math.IsInf(delay, 0) {
		delay = float64(b.config.MaxDelay)
	}

	// +/-25%
	if b.config.Jitter {
		jitter := delay * 0.25
		delay += (secureFloat64() - 0.5) * 2 * jitter
		if delay < float64(b.config.InitialDelay) {
			delay = float64(b.config.InitialDelay)
		}
		if delay > float64(b.config.MaxDelay) {
			delay = float64(b.config.MaxDelay)
		}
	}

	return time.Duration(delay)
}

// secureFloat64 returns a value in [0, 1)
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return float64(time.Now().UnixNano()%1000000) / 1000000.0
	}
	return float64(n.Int64()) / float64(1<<53)
}
