// Package retry applies bounded exponential backoff to transient dependency
// errors. Callers mark non-transient failures with Permanent.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop. MaxRetries counts retries after the first attempt.
type Policy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Default is two retries starting at 50ms.
var Default = Policy{MaxRetries: 2, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}

// Permanent stops the loop and returns err unwrapped to the caller.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds or returns a permanent error, the retries run
// out, or ctx is done. A permanent error is returned unwrapped.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = Default.BaseDelay
	}
	eb.MaxInterval = p.MaxDelay
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = Default.MaxDelay
	}
	eb.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		return op(ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx))
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
