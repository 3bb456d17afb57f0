// Package retry runs operations under bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/JakeFAU/web-research-pipeline/internal/metrics"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Policy bounds how an operation is retried.
type Policy struct {
	// Op labels retry metrics.
	Op          string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether an error warrants another attempt. Nil means IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy allows three attempts with delays starting at 250ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

var transientStatuses = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooEarly:            {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// IsTransientStatus reports whether an HTTP status is worth retrying.
func IsTransientStatus(code int) bool {
	_, ok := transientStatuses[code]
	return ok
}

// IsTransient classifies timeouts and transient HTTP statuses as retryable.
// Cancellation and everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if code := research.StatusCode(err); code != 0 {
		return IsTransientStatus(code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Do runs op until it succeeds, returns a non-retryable error, the attempt
// budget is spent, or ctx is done. The last operation error is returned.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	policy = policy.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.MaxDelay
	b.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1)), ctx)

	var lastErr error
	attempt := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !policy.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(error, time.Duration) {
		if policy.Op != "" {
			metrics.ObserveRetry(policy.Op)
		}
	}
	if err := backoff.RetryNotify(attempt, bo, notify); err != nil {
		if lastErr == nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
		return lastErr
	}
	return nil
}

// Attempts is like Do but also reports how many times op ran.
func Attempts(ctx context.Context, policy Policy, op func(ctx context.Context) error) (int, error) {
	n := 0
	err := Do(ctx, policy, func(ctx context.Context) error {
		n++
		return op(ctx)
	})
	return n, err
}
