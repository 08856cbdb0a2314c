// Package ratelimit wraps calls to a quota-limited HTTP API with bounded
// retries. Delays come from the server's structured RetryInfo, then the
// Retry-After header, then exponential backoff; once attempts run out the
// caller's local fallback is used instead of an error.
package ratelimit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrExhausted is returned when every attempt failed and no fallback was given.
var ErrExhausted = errors.New("upstream attempts exhausted")

// RequestFunc builds a fresh request for each attempt.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// FallbackFunc synthesizes a degraded result locally. cause is the last
// upstream failure.
type FallbackFunc func(ctx context.Context, cause error) ([]byte, error)

// StatusError is a non-2xx upstream answer.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := string(e.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("[%d] %s", e.StatusCode, body)
}

// Result of Do.
type Result struct {
	Body       []byte
	StatusCode int
	Attempts   int
	// Degraded is set when Body came from the fallback.
	Degraded  bool
	Decisions []Decision
}

// Caller issues calls against one rate-limited upstream. It is safe for
// concurrent use.
type Caller struct {
	name        string
	client      *http.Client
	maxAttempts int
	timeout     time.Duration
	backoff     BackoffPolicy
	limiter     *rate.Limiter
	logger      *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
	now    func() time.Time
}

// New creates a Caller.
func New(opts ...Option) *Caller {
	c := &Caller{
		name:        "upstream",
		client:      &http.Client{},
		maxAttempts: defaultMaxAttempts,
		timeout:     defaultCallTimeout,
		backoff: BackoffPolicy{
			Base:      defaultBackoffBase,
			Max:       defaultBackoffMax,
			MaxJitter: defaultBackoffJitter,
		},
		logger: zap.NewNop(),
		sleep:  sleepCtx,
		jitter: jitter,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxAttempts returns the configured attempt bound.
func (c *Caller) MaxAttempts() int { return c.maxAttempts }

// Do runs newRequest until it succeeds or MaxAttempts calls have been made.
// Exhaustion is not an error when fallback is non-nil: the fallback's body is
// returned with Degraded set. Only context cancellation, request
// construction failures and fallback failures are returned as errors.
func (c *Caller) Do(ctx context.Context, newRequest RequestFunc, fallback FallbackFunc) (*Result, error) {
	var (
		lastErr   error
		decisions []Decision
		attempts  int
	)
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, errors.Trace(err)
			}
		}

		attempts++
		status, header, body, err := c.once(ctx, newRequest)
		if err == nil && status >= 200 && status < 300 {
			return &Result{
				Body:       body,
				StatusCode: status,
				Attempts:   attempts,
				Decisions:  decisions,
			}, nil
		}
		if ctx.Err() != nil {
			return nil, errors.Trace(ctx.Err())
		}
		if be, ok := err.(*buildError); ok {
			return nil, errors.Annotate(be.err, "build request")
		}

		var d Decision
		if err != nil {
			lastErr = err
			d = c.backoffDecision(attempt)
		} else {
			lastErr = &StatusError{StatusCode: status, Body: body}
			d = c.Decide(attempt, header, body, c.now())
		}
		if attempt == c.maxAttempts-1 {
			break
		}

		decisions = append(decisions, d)
		retryCounter.WithLabelValues(c.name, d.Source.String()).Inc()
		c.logger.Warn("upstream call failed, retrying",
			zap.String("upstream", c.name),
			zap.Int("attempt", attempt+1),
			zap.Int("max-attempts", c.maxAttempts),
			zap.Int("status", status),
			zap.Duration("delay", d.Delay),
			zap.Stringer("delay-source", d.Source),
			zap.Error(lastErr))
		if err := c.sleep(ctx, d.Delay); err != nil {
			return nil, errors.Trace(err)
		}
	}

	fallbackCounter.WithLabelValues(c.name).Inc()
	c.logger.Warn("upstream attempts exhausted",
		zap.String("upstream", c.name),
		zap.Int("attempts", attempts),
		zap.Bool("fallback", fallback != nil),
		zap.Error(lastErr))
	if fallback == nil {
		return nil, errors.Annotatef(ErrExhausted, "%s after %d attempts: %v", c.name, attempts, lastErr)
	}
	body, err := fallback(ctx, lastErr)
	if err != nil {
		return nil, errors.Annotate(err, "fallback")
	}
	return &Result{
		Body:      body,
		Attempts:  attempts,
		Degraded:  true,
		Decisions: decisions,
	}, nil
}

type buildError struct{ err error }

func (e *buildError) Error() string { return e.err.Error() }

func (c *Caller) once(ctx context.Context, newRequest RequestFunc) (int, http.Header, []byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := newRequest(callCtx)
	if err != nil {
		return 0, nil, nil, &buildError{err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header, nil, err
	}
	return resp.StatusCode, resp.Header, body, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
