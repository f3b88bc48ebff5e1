package render

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the retries of transient poll failures.
type RetryPolicy struct {
	// Base is the delay after the first transient failure.
	Base time.Duration
	// Cap is the largest delay between retries.
	Cap time.Duration
	// MaxTransientFailures is how many consecutive transient failures end the
	// lifecycle with POLL_EXHAUSTED.
	MaxTransientFailures int
}

// DefaultRetryPolicy doubles from 1s up to 30s and gives up on the fifth
// consecutive failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:                 time.Second,
		Cap:                  30 * time.Second,
		MaxTransientFailures: 5,
	}
}

// newBackOff returns a deterministic exponential schedule that yields
// backoff.Stop once the failure budget is spent.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Base
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = p.Cap
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := p.MaxTransientFailures - 1
	if retries < 0 {
		retries = 0
	}
	// WithMaxRetries treats 0 as unlimited.
	if retries == 0 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(exp, uint64(retries))
}
