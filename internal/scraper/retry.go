package scraper

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

// RetryPolicy governs per-source retry behavior. Delays and sleeping are
// injectable so the loop is testable without real waits.
type RetryPolicy struct {
	// MaxAttempts is the total number of fetch attempts, including the
	// first one.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff (base * 2^attempt).
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff before jitter.
	MaxDelay time.Duration
	// Jitter perturbs the backoff to avoid synchronized retry storms.
	// Nil uses a cryptographically random half-delay jitter.
	Jitter func(limit time.Duration) time.Duration
	// Sleep waits out the backoff. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the policy used when config leaves retries
// unset: 3 attempts, 500ms base, 10s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// ShouldRetry reports whether another attempt is allowed after a failure of
// the given class on the given 1-based attempt number.
func (p RetryPolicy) ShouldRetry(class ErrorClass, attempt int) bool {
	if class != ClassTransient {
		return false
	}
	return attempt < p.maxAttempts()
}

// Backoff returns the wait before the next attempt. attempt is 1-based:
// the wait after the first failed attempt uses exponent zero.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + p.jitter(half)
}

// Wait sleeps the backoff for the given attempt, honoring cancellation.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	d := p.Backoff(attempt)
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 3
	}
	return p.MaxAttempts
}

func (p RetryPolicy) jitter(limit time.Duration) time.Duration {
	if p.Jitter != nil {
		return p.Jitter(limit)
	}
	return randomJitter(limit)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
