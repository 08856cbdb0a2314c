package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCaller(opts ...Option) *Caller {
	c := New(opts...)
	c.jitter = func(time.Duration) time.Duration { return 0 }
	return c
}

const quotaBody = `{"error": {"code": 429, "status": "RESOURCE_EXHAUSTED", "details": [
  {"@type": "type.googleapis.com/google.rpc.QuotaFailure", "violations": []},
  {"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "7s"}
]}}`

func TestDecidePrecedence(t *testing.T) {
	c := newTestCaller()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hdr := http.Header{"Retry-After": {"3"}}

	d := c.Decide(0, hdr, []byte(quotaBody), now)
	require.Equal(t, Decision{Delay: 7 * time.Second, Source: SourceExplicit}, d)

	d = c.Decide(0, hdr, []byte(`{"error": {"message": "slow down"}}`), now)
	require.Equal(t, Decision{Delay: 3 * time.Second, Source: SourceHeader}, d)

	d = c.Decide(2, http.Header{}, nil, now)
	require.Equal(t, Decision{Delay: 4 * time.Second, Source: SourceBackoff}, d)
}

func TestExplicitDelayClamped(t *testing.T) {
	cases := []struct {
		body string
		want time.Duration
		ok   bool
	}{
		{`{"error": {"details": [{"@type": "x/RetryInfo", "retryDelay": "0.1s"}]}}`, 500 * time.Millisecond, true},
		{`{"error": {"details": [{"@type": "x/RetryInfo", "retryDelay": "1h"}]}}`, 120 * time.Second, true},
		{`{"error": {"details": [{"@type": "x/RetryInfo", "retryDelay": "2.5s"}]}}`, 2500 * time.Millisecond, true},
		{`{"error": {"details": [{"@type": "x/RetryInfo", "retryDelay": 4}]}}`, 4 * time.Second, true},
		{`{"error": {"details": [{"@type": "x/RetryInfo", "retryDelay": "soon"}]}}`, 0, false},
		{`{"error": {"details": [{"@type": "x/ErrorInfo", "retryDelay": "3s"}]}}`, 0, false},
		{`{"error": {"details": {}}}`, 0, false},
		{`not json`, 0, false},
	}
	for _, tc := range cases {
		d, ok := explicitDelay([]byte(tc.body))
		require.Equal(t, tc.ok, ok, tc.body)
		require.Equal(t, tc.want, d, tc.body)
	}
}

func TestHeaderDelay(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	d, ok := headerDelay(http.Header{"Retry-After": {"120"}}, now)
	require.True(t, ok)
	require.Equal(t, 120*time.Second, d)

	d, ok = headerDelay(http.Header{"Retry-After": {now.Add(10 * time.Second).Format(http.TimeFormat)}}, now)
	require.True(t, ok)
	require.Equal(t, 10*time.Second, d)

	// dates in the past still wait a little
	d, ok = headerDelay(http.Header{"Retry-After": {now.Add(-time.Minute).Format(http.TimeFormat)}}, now)
	require.True(t, ok)
	require.Equal(t, time.Second, d)

	_, ok = headerDelay(http.Header{"Retry-After": {"-1"}}, now)
	require.False(t, ok)
	_, ok = headerDelay(http.Header{"Retry-After": {"tomorrow"}}, now)
	require.False(t, ok)
	for _, v := range []string{"NaN", "Inf", "+Inf", "-Inf", "1.5", "1e3", "9223372036854775807"} {
		_, ok = headerDelay(http.Header{"Retry-After": {v}}, now)
		require.False(t, ok, v)
	}
	_, ok = headerDelay(http.Header{}, now)
	require.False(t, ok)
}

func TestBackoffCapped(t *testing.T) {
	p := BackoffPolicy{}.normalized()
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
	prev := time.Duration(0)
	for attempt, w := range want {
		d := p.exponential(attempt)
		require.Equal(t, w*time.Second, d, "attempt %d", attempt)
		require.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	c := New()
	for i := 0; i < 200; i++ {
		d := c.backoffDecision(1)
		require.Equal(t, SourceBackoff, d.Source)
		require.GreaterOrEqual(t, d.Delay, 2*time.Second)
		require.LessOrEqual(t, d.Delay, 2*time.Second+500*time.Millisecond)
	}
}
