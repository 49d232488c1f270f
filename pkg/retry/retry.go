// Package retry runs operations under a bounded exponential backoff policy.
package retry

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxJitter   = time.Second
)

// maxShift keeps BaseDelay<<shift from overflowing.
const maxShift = 32

// Policy describes how often and how long to wait between attempts.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
	MaxJitter   time.Duration `yaml:"max_jitter" json:"max_jitter"`

	// jitter returns a value in [0, n). Tests replace it.
	jitter func(n int64) int64
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxJitter:   DefaultMaxJitter,
	}
}

// WithDefaults fills zero fields from DefaultPolicy. A negative MaxJitter
// disables jitter.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxJitter == 0 {
		p.MaxJitter = d.MaxJitter
	}
	if p.MaxJitter < 0 {
		p.MaxJitter = 0
	}
	return p
}

// Delay returns the wait before attempt (attempt >= 2):
// min(MaxDelay, BaseDelay*2^(attempt-2) + jitter) with jitter in [0, MaxJitter).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}

	shift := attempt - 2
	var d time.Duration
	if shift >= maxShift {
		d = p.MaxDelay
	} else {
		d = p.BaseDelay << shift
	}
	if d < 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.MaxJitter > 0 {
		rnd := p.jitter
		if rnd == nil {
			rnd = rand.Int64N
		}
		d += time.Duration(rnd(int64(p.MaxJitter)))
	}
	return min(d, p.MaxDelay)
}

// policyBackOff adapts a Policy to backoff.BackOff.
type policyBackOff struct {
	policy  Policy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.policy.Delay(b.attempt + 1)
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
}

// Option customizes Do.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	onRetry func(attempt int, err error, delay time.Duration)
}

// WithLogger sets the logger used for retry messages.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// OnRetry registers fn to run before each retry. attempt is the number of
// the attempt about to be made.
func OnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Do calls op until it succeeds, returns an error rejected by retryable,
// the policy runs out of attempts, or ctx is done.
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error), retryable func(error) bool, opts ...Option) (T, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	policy = policy.WithDefaults()

	attempt := 1
	operation := func() (T, error) {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, delay time.Duration) {
		attempt++
		o.logger.Debug("retry: attempt failed, retrying",
			"attempt", attempt, "max_attempts", policy.MaxAttempts,
			"delay", delay, "error", err)
		if o.onRetry != nil {
			o.onRetry(attempt, err, delay)
		}
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(&policyBackOff{policy: policy}),
		backoff.WithMaxTries(uint(policy.MaxAttempts)), //nolint:gosec // MaxAttempts is positive after WithDefaults
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
}
