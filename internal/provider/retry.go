package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// RetryingAdapter wraps an Adapter with bounded exponential backoff and a
// per-provider rate limiter, so a single flaky upstream call does not
// immediately surface as a transport failure to the poll worker (spec §4.A,
// §7.1).
type RetryingAdapter struct {
	inner   Adapter
	limiter *rate.Limiter
	maxTry  uint
}

// NewRetryingAdapter wraps inner with up to maxAttempts tries (0 disables
// retry) and a request-per-second ceiling rps (0 disables limiting).
func NewRetryingAdapter(inner Adapter, maxAttempts uint, rps float64) *RetryingAdapter {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	return &RetryingAdapter{inner: inner, limiter: limiter, maxTry: maxAttempts}
}

// ProviderID implements Adapter.
func (r *RetryingAdapter) ProviderID() string { return r.inner.ProviderID() }

// SearchAvailability implements Adapter, retrying transient failures with
// exponential backoff up to maxTry attempts before returning the last error.
func (r *RetryingAdapter) SearchAvailability(ctx context.Context, dateStr, timeSlot string, partySizes []int) ([]NormalizedSlot, error) {
	operation := func() ([]NormalizedSlot, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(fmt.Errorf("rate limiter wait: %w", err))
			}
		}
		slots, err := r.inner.SearchAvailability(ctx, dateStr, timeSlot, partySizes)
		if err != nil {
			return nil, fmt.Errorf("%s search failed bucket=%s_%s: %w", r.inner.ProviderID(), dateStr, timeSlot, err)
		}
		return slots, nil
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(r.maxTry),
		backoff.WithMaxElapsedTime(30*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}
