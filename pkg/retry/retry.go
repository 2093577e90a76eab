package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FatalError stops a retry loop on the attempt that returned it.
// *errors.Error from pkg/errors satisfies it when marked fatal.
type FatalError interface {
	error
	IsFatal() bool
}

type permanent struct {
	err error
}

func (e *permanent) Error() string { return e.err.Error() }
func (e *permanent) Unwrap() error { return e.err }
func (e *permanent) IsFatal() bool { return true }

// NewFatalError marks err as not worth retrying. nil stays nil.
func NewFatalError(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

func isFatal(err error) bool {
	var f FatalError
	return errors.As(err, &f) && f.IsFatal()
}

// Policy bounds a retry loop. Attempts counts the first call.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// MaxElapsedTime of zero means only MaxAttempts ends the loop.
	MaxElapsedTime time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  5 * time.Minute,
	}
}

// BoundedPolicy retries up to attempts times with a short exponential backoff
// and no overall deadline.
func BoundedPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	if p.Multiplier > 0 {
		exp.Multiplier = p.Multiplier
	}
	exp.MaxElapsedTime = p.MaxElapsedTime

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Retry runs fn until it succeeds, returns a FatalError, or the policy is
// exhausted. Any other error is retried.
func Retry(ctx context.Context, policy Policy, fn func() error) error {
	return RetryWithCallback(ctx, policy, fn, nil)
}

// RetryWithCallback is Retry with onRetry called before every sleep. attempt
// is the 1-based number of the call that just failed.
func RetryWithCallback(ctx context.Context, policy Policy, fn func() error, onRetry func(attempt int, err error, nextDelay time.Duration)) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err != nil && isFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if onRetry != nil {
		notify = func(err error, next time.Duration) {
			onRetry(attempt, err, next)
		}
	}
	return backoff.RetryNotify(operation, policy.backOff(ctx), notify)
}
