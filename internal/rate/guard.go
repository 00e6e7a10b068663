package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitError is returned when a call is blocked locally.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

// bucket is a token bucket refilled continuously over its window.
type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

// Guard enforces a declared call budget for one provider.
type Guard struct {
	decl Declaration

	mu       sync.Mutex
	buckets  map[Window]*bucket
	cooldown time.Time
}

// WrapHTTP wraps an http.Client with budget enforcement. The original client
// is not modified.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{
		base:  transport,
		guard: NewGuard(decl),
	}
	return &client
}

func NewGuard(decl Declaration) *Guard {
	buckets := make(map[Window]*bucket)
	for window, limit := range decl.Limits() {
		buckets[window] = &bucket{
			capacity: limit,
			tokens:   float64(limit),
			last:     time.Now(),
		}
	}
	return &Guard{decl: decl, buckets: buckets}
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall(time.Now())
	if !decision.Allowed {
		blockedCounter.WithLabelValues(rt.guard.decl.ProviderName(), decision.Reason).Inc()
		return nil, RateLimitError{
			Provider: rt.guard.decl.ProviderName(),
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

func (g *Guard) ShouldCall(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.decl.HasLimits() {
		return Decision{Allowed: false, Reason: "disabled"}
	}
	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}
	}

	for window, b := range g.buckets {
		if !consumeToken(b, windowDuration(window), now) {
			retryAt := b.last.Add(windowDuration(window) / time.Duration(b.capacity))
			return Decision{Allowed: false, Reason: "budget", RetryAt: retryAt}
		}
	}
	return Decision{Allowed: true}
}

// RecordResponse updates cooldown state from a response. A 429 without a
// Retry-After header backs off for a full minute window.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lastStatusGauge.WithLabelValues(g.decl.ProviderName()).Set(float64(status))

	retryAfter := headerSeconds(headers, "Retry-After")
	if retryAfter <= 0 && status == http.StatusTooManyRequests {
		retryAfter = int(time.Minute.Seconds())
	}
	if retryAfter > 0 {
		g.cooldown = time.Now().Add(time.Duration(retryAfter) * time.Second)
		retryAfterGauge.WithLabelValues(g.decl.ProviderName()).Set(float64(retryAfter))
	}
}

func headerSeconds(h http.Header, key string) int {
	val := h.Get(key)
	if val == "" {
		return -1
	}
	seconds, err := strconv.Atoi(val)
	if err != nil {
		return -1
	}
	return seconds
}

func windowDuration(window Window) time.Duration {
	switch window {
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

func consumeToken(b *bucket, window time.Duration, now time.Time) bool {
	if b.last.IsZero() {
		b.last = now
	}
	elapsed := now.Sub(b.last).Seconds()
	refillRate := float64(b.capacity) / window.Seconds()
	b.tokens = min(float64(b.capacity), b.tokens+elapsed*refillRate)
	b.last = now
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}
