package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Source names the signal a retry delay was derived from.
type Source int

const (
	SourceBackoff Source = iota
	SourceExplicit
	SourceHeader
)

func (s Source) String() string {
	switch s {
	case SourceExplicit:
		return "explicit"
	case SourceHeader:
		return "header"
	default:
		return "backoff"
	}
}

// Decision is the delay chosen after one failed attempt.
type Decision struct {
	Delay  time.Duration
	Source Source
}

const (
	minExplicitDelay = 500 * time.Millisecond
	maxExplicitDelay = 120 * time.Second
	minDateDelay     = time.Second
)

// explicitDelay extracts retryDelay from a RetryInfo entry of a structured
// error body: {"error": {"details": [{"@type": ".../RetryInfo", "retryDelay": "2.5s"}]}}.
func explicitDelay(body []byte) (time.Duration, bool) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return 0, false
	}
	details := gjson.GetBytes(body, "error.details")
	if !details.IsArray() {
		return 0, false
	}

	var (
		d     time.Duration
		found bool
	)
	details.ForEach(func(_, detail gjson.Result) bool {
		var typ, delay gjson.Result
		detail.ForEach(func(k, v gjson.Result) bool {
			switch k.String() {
			case "@type":
				typ = v
			case "retryDelay":
				delay = v
			}
			return true
		})
		if !strings.HasSuffix(typ.String(), "RetryInfo") || !delay.Exists() {
			return true
		}
		switch delay.Type {
		case gjson.String:
			parsed, err := time.ParseDuration(strings.TrimSpace(delay.String()))
			if err != nil {
				return true
			}
			d, found = parsed, true
		case gjson.Number:
			d, found = time.Duration(delay.Float()*float64(time.Second)), true
		}
		return !found
	})
	if !found {
		return 0, false
	}
	if d < minExplicitDelay {
		d = minExplicitDelay
	}
	if d > maxExplicitDelay {
		d = maxExplicitDelay
	}
	return d, true
}

// headerDelay interprets Retry-After as delta-seconds or an HTTP date.
func headerDelay(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	// delta-seconds is a non-negative integer
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs < 0 || secs > int64(math.MaxInt64/time.Second) {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	d := t.Sub(now)
	if d < minDateDelay {
		d = minDateDelay
	}
	return d, true
}

// Decide picks the delay before the next attempt. A structured directive in
// the body wins over Retry-After, which wins over computed backoff.
func (c *Caller) Decide(attempt int, header http.Header, body []byte, now time.Time) Decision {
	if d, ok := explicitDelay(body); ok {
		return Decision{Delay: d, Source: SourceExplicit}
	}
	if header != nil {
		if d, ok := headerDelay(header, now); ok {
			return Decision{Delay: d, Source: SourceHeader}
		}
	}
	return c.backoffDecision(attempt)
}

func (c *Caller) backoffDecision(attempt int) Decision {
	return Decision{
		Delay:  c.backoff.exponential(attempt) + c.jitter(c.backoff.MaxJitter),
		Source: SourceBackoff,
	}
}
