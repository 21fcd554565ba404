// Package ratelimit provides per-actor invocation counters for command dispatch.
// Each key owns a fixed window: the first hit opens it, hits past the ceiling are
// rejected until the window expires, and the rejection reports the time left.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Config holds rate limiter configuration.
type Config struct {
	Enabled        bool
	MaxInvocations int
	Window         time.Duration
}

// DefaultConfig returns the default limit of 10 invocations per minute.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		MaxInvocations: 10,
		Window:         time.Minute,
	}
}

// Decision is the outcome of a single Hit.
type Decision struct {
	Allowed    bool
	Count      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below 1 for a
// rejected hit.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter counts hits per key inside fixed windows.
type Limiter struct {
	config  Config
	windows sync.Map // map[string]*window
	now     func() time.Time
}

type window struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// NewLimiter creates a new rate limiter with the given configuration.
func NewLimiter(config Config) *Limiter {
	return &Limiter{config: config, now: time.Now}
}

// WithClock swaps the time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Hit records one invocation for key and reports whether it fits the window.
// Increment and check happen under the key's lock, so concurrent hits from the
// same actor are never lost.
func (l *Limiter) Hit(key string) Decision {
	if !l.config.Enabled || l.config.MaxInvocations <= 0 {
		return Decision{Allowed: true, Remaining: math.MaxInt32}
	}

	for {
		if d, ok := l.hitWindow(key, l.getWindow(key), l.now()); ok {
			return d
		}
	}
}

// hitWindow counts one hit on w. It reports false when w was removed from the
// map before its lock was taken; the caller then retries on the current window.
func (l *Limiter) hitWindow(key string, w *window, now time.Time) (Decision, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if current, ok := l.windows.Load(key); !ok || current.(*window) != w {
		return Decision{}, false
	}

	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(l.config.Window)
	}

	if w.count >= l.config.MaxInvocations {
		return Decision{
			Allowed:    false,
			Count:      w.count,
			RetryAfter: w.resetAt.Sub(now),
			ResetAt:    w.resetAt,
		}, true
	}

	w.count++
	return Decision{
		Allowed:   true,
		Count:     w.count,
		Remaining: l.config.MaxInvocations - w.count,
		ResetAt:   w.resetAt,
	}, true
}

// Allow is Hit reduced to a boolean.
func (l *Limiter) Allow(key string) bool {
	return l.Hit(key).Allowed
}

// getWindow gets or creates the window for key.
func (l *Limiter) getWindow(key string) *window {
	if cached, ok := l.windows.Load(key); ok {
		return cached.(*window)
	}
	actual, _ := l.windows.LoadOrStore(key, &window{})
	return actual.(*window)
}

// Status describes a key's current window without counting a hit.
type Status struct {
	Key       string
	Used      int
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

// GetStatus returns the current window state for key.
func (l *Limiter) GetStatus(key string) Status {
	status := Status{Key: key, Limit: l.config.MaxInvocations, Remaining: l.config.MaxInvocations}
	if !l.config.Enabled {
		return status
	}

	cached, ok := l.windows.Load(key)
	if !ok {
		return status
	}
	w := cached.(*window)
	now := l.now()

	w.mu.Lock()
	defer w.mu.Unlock()
	if now.Before(w.resetAt) {
		status.Used = w.count
		status.Remaining = l.config.MaxInvocations - w.count
		status.ResetIn = w.resetAt.Sub(now)
	}
	return status
}

// Clear forgets key's window.
func (l *Limiter) Clear(key string) {
	l.windows.Delete(key)
}

// Reset forgets every window.
func (l *Limiter) Reset() {
	l.windows.Range(func(key, _ any) bool {
		l.windows.Delete(key)
		return true
	})
}

// Cleanup removes windows that expired more than maxAge ago.
func (l *Limiter) Cleanup(maxAge time.Duration) int {
	now := l.now()
	removed := 0

	l.windows.Range(func(key, value any) bool {
		w := value.(*window)
		w.mu.Lock()
		if now.Sub(w.resetAt) > maxAge {
			l.windows.Delete(key)
			removed++
		}
		w.mu.Unlock()
		return true
	})
	return removed
}
