// Package retry implements exponential backoff with jitter and the retry
// loop applied to transient store failures.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/machichima/obstore/internal/config"
	"github.com/machichima/obstore/pkg/obserrors"
)

// Backoff produces successive sleep intervals: init * base^attempt with full
// jitter, capped at max.
type Backoff struct {
	policy  config.RetryPolicy
	attempt int
}

// NewBackoff builds a backoff sequence from a policy. Zero-valued fields are
// replaced with the package defaults.
func NewBackoff(p config.RetryPolicy) *Backoff {
	if p.InitBackoff <= 0 {
		p.InitBackoff = config.DefaultInitBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = config.DefaultMaxBackoff
	}
	if p.BackoffBase <= 1 {
		p.BackoffBase = config.DefaultBackoffBase
	}
	return &Backoff{policy: p}
}

// Next returns the next sleep interval and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := float64(b.policy.InitBackoff)
	for i := 0; i < b.attempt; i++ {
		d *= b.policy.BackoffBase
		if d >= float64(b.policy.MaxBackoff) {
			d = float64(b.policy.MaxBackoff)
			break
		}
	}
	b.attempt++
	return time.Duration(rand.Float64() * d)
}

// Attempt returns how many intervals have been produced so far.
func (b *Backoff) Attempt() int { return b.attempt }

// Do runs fn, retrying transient failures per the policy. Retries stop when
// the attempt budget or the total retry window is exhausted, or when fn
// returns a non-transient error. The last error is returned unwrapped.
func Do(ctx context.Context, p config.RetryPolicy, op string, fn func(context.Context) error) error {
	if p.MaxRetries <= 0 {
		p.MaxRetries = config.DefaultMaxRetries
	}
	if p.RetryTimeout <= 0 {
		p.RetryTimeout = config.DefaultRetryTimeout
	}

	backoff := NewBackoff(p)
	deadline := time.Now().Add(p.RetryTimeout)

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !obserrors.IsTransient(err) {
			return err
		}
		if attempt >= p.MaxRetries || time.Now().After(deadline) {
			return err
		}

		sleep := backoff.Next()
		log.Debug().
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("backoff", sleep).
			Err(err).
			Msg("retrying transient failure")

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
