package ratelimit

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMaxAttempts = 3
	defaultCallTimeout = 60 * time.Second
)

// Option configures a Caller.
type Option func(*Caller)

// WithMaxAttempts bounds the number of upstream calls per Do.
func WithMaxAttempts(n int) Option {
	return func(c *Caller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithHTTPClient sets the client used for upstream calls.
func WithHTTPClient(cl *http.Client) Option {
	return func(c *Caller) {
		if cl != nil {
			c.client = cl
		}
	}
}

// WithCallTimeout sets the timeout of a single upstream call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Caller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBackoff overrides the computed-backoff policy.
func WithBackoff(p BackoffPolicy) Option {
	return func(c *Caller) { c.backoff = p.normalized() }
}

// WithRateLimit paces attempts on the client side. r <= 0 disables pacing.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Caller) {
		if r <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Caller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithName labels log lines and metrics with the upstream's name.
func WithName(name string) Option {
	return func(c *Caller) { c.name = name }
}
