package syncer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryStrategy selects the delay progression between attempts.
type RetryStrategy string

const (
	RetryFixed       RetryStrategy = "fixed"
	RetryExponential RetryStrategy = "exponential"
)

// ParseRetryStrategy validates a strategy name. Empty means fixed.
func ParseRetryStrategy(input string) (RetryStrategy, error) {
	switch RetryStrategy(strings.ToLower(strings.TrimSpace(input))) {
	case "", RetryFixed:
		return RetryFixed, nil
	case RetryExponential:
		return RetryExponential, nil
	default:
		return "", configError("unknown retry strategy %q", input)
	}
}

// RetryPolicy bounds the attempts made against the log source.
type RetryPolicy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int
	Delay    time.Duration
	Strategy RetryStrategy
}

// DefaultRetryPolicy is three attempts two seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 2 * time.Second, Strategy: RetryFixed}
}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

func (p RetryPolicy) backOff() backoff.BackOff {
	delay := p.Delay
	if delay < 0 {
		delay = 0
	}
	var b backoff.BackOff
	switch p.Strategy {
	case RetryExponential:
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = delay
		exp.MaxElapsedTime = 0
		if delay > 0 {
			exp.MaxInterval = 30 * delay
		}
		b = exp
	default:
		b = backoff.NewConstantBackOff(delay)
	}
	return backoff.WithMaxRetries(b, uint64(p.attempts()-1))
}

// withRetry runs fn until it succeeds, the policy is exhausted, ctx is done or
// fn returns an ErrConfig error. It returns the number of attempts made.
func withRetry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error, onRetry func(err error, attempt int, wait time.Duration)) (int, error) {
	attempts := 0
	operation := func() error {
		attempts++
		err := fn(ctx)
		if err != nil && errors.Is(err, ErrConfig) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(err, attempts, wait)
		}
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(policy.backOff(), ctx), notify)
	return attempts, err
}
