package ratelimit

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBackoffBase   = time.Second
	defaultBackoffMax    = 30 * time.Second
	defaultBackoffJitter = 500 * time.Millisecond
)

// BackoffPolicy is the fallback delay used when the server gives no hint:
// min(Max, Base*2^attempt) plus a uniform jitter in [0, MaxJitter].
type BackoffPolicy struct {
	Base      time.Duration
	Max       time.Duration
	MaxJitter time.Duration
}

func (p BackoffPolicy) normalized() BackoffPolicy {
	q := p
	if q.Base <= 0 {
		q.Base = defaultBackoffBase
	}
	if q.Max <= 0 {
		q.Max = defaultBackoffMax
	}
	if q.Max < q.Base {
		q.Max = q.Base
	}
	if q.MaxJitter < 0 {
		q.MaxJitter = 0
	}
	return q
}

// exponential returns the pre-jitter delay for a 0-based attempt.
func (p BackoffPolicy) exponential(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.MaxInterval = p.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < attempt && d < p.Max; i++ {
		d = b.NextBackOff()
	}
	return d
}

// jitter returns a uniform value in [0, max].
func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) + 1)) // #nosec G404 non-crypto
}
