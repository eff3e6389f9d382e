package services

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds exponential backoff for vendor calls and downloads.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterPercent  uint64
}

// DefaultRetryPolicy mirrors the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		JitterPercent:  20,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := retry.NewExponential(initial)
	if p.MaxBackoff > 0 {
		b = retry.WithCappedDuration(p.MaxBackoff, b)
	}
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Retry runs fn until it succeeds, returns a non-retriable error, the attempt
// cap is reached, or ctx ends. The last error is returned on exhaustion.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	attempt := 0
	return retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if IsRetriable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// SleepWithContext blocks for the given duration, returning early if the
// context is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRetriable reports whether err represents a transient condition that
// warrants an automatic retry (rate limits, timeouts, connection errors).
func IsRetriable(err error) bool {
	if err == nil || IsTerminal(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Malformed responses and exhausted retries never go round again.
	if errors.Is(err, ErrUpstream) || errors.Is(err, ErrDownloadFailed) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	message := strings.ToLower(err.Error())
	tokens := []string{
		"timeout",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"unexpected eof",
		"temporary failure",
		"awaiting headers",
	}
	for _, token := range tokens {
		if strings.Contains(message, token) {
			return true
		}
	}
	return false
}
