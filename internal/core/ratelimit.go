package core

import (
	"sync"
	"time"
)

// RateLimiter bounds alert volume with rolling windows keyed by source IP
// and by attack label. State is process-local and in-memory: restarts reset
// the windows, which is acceptable because deduplication here is best-effort,
// not a correctness guarantee.
//
// Allow is a single check-and-reserve under one lock so concurrent events
// for the same key can never double-count a window or exceed a cap. A denial
// reserves nothing — counts only move forward on an allowed attempt, and
// they never go negative.
type RateLimiter struct {
	mu           sync.Mutex
	window       time.Duration
	maxPerSource int
	maxPerType   int
	bySource     map[string]*rateWindow
	byType       map[AttackLabel]*rateWindow
	now          func() time.Time
}

type rateWindow struct {
	count   int
	started time.Time
}

// NewRateLimiter creates a limiter with the given rolling window and caps.
func NewRateLimiter(window time.Duration, maxPerSource, maxPerType int) *RateLimiter {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &RateLimiter{
		window:       window,
		maxPerSource: maxPerSource,
		maxPerType:   maxPerType,
		bySource:     make(map[string]*rateWindow),
		byType:       make(map[AttackLabel]*rateWindow),
		now:          time.Now,
	}
}

// Allow reports whether an alert for (sourceIP, label) fits in the current
// windows, reserving one slot in each when it does.
func (rl *RateLimiter) Allow(sourceIP string, label AttackLabel) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	src := rl.windowFor(rl.bySource, sourceIP, now)
	typ := rl.windowForType(label, now)

	if src.count >= rl.maxPerSource || typ.count >= rl.maxPerType {
		return false
	}
	src.count++
	typ.count++
	return true
}

func (rl *RateLimiter) windowFor(m map[string]*rateWindow, key string, now time.Time) *rateWindow {
	w, ok := m[key]
	if !ok || now.Sub(w.started) >= rl.window {
		w = &rateWindow{started: now}
		m[key] = w
	}
	return w
}

func (rl *RateLimiter) windowForType(label AttackLabel, now time.Time) *rateWindow {
	w, ok := rl.byType[label]
	if !ok || now.Sub(w.started) >= rl.window {
		w = &rateWindow{started: now}
		rl.byType[label] = w
	}
	return w
}

// SourceCount returns the current window count for a source IP.
func (rl *RateLimiter) SourceCount(sourceIP string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.bySource[sourceIP]
	if !ok || rl.now().Sub(w.started) >= rl.window {
		return 0
	}
	return w.count
}

// Stats returns a snapshot of limiter state.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return map[string]interface{}{
		"window_seconds": rl.window.Seconds(),
		"max_per_source": rl.maxPerSource,
		"max_per_type":   rl.maxPerType,
		"active_sources": len(rl.bySource),
		"active_types":   len(rl.byType),
	}
}

// StartCleanup runs a background goroutine that drops elapsed windows so
// one-off sources do not accumulate forever. Call the returned function to
// stop it.
func (rl *RateLimiter) StartCleanup(interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				rl.mu.Lock()
				now := rl.now()
				for key, w := range rl.bySource {
					if now.Sub(w.started) >= rl.window {
						delete(rl.bySource, key)
					}
				}
				for label, w := range rl.byType {
					if now.Sub(w.started) >= rl.window {
						delete(rl.byType, label)
					}
				}
				rl.mu.Unlock()
			}
		}
	}()
	return func() { close(done) }
}
