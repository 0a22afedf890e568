package alerting

import (
	"sync"
	"time"
)

// Throttle suppresses repeat alerts with the same title inside a rolling
// window. The first alert in a window passes; repeats are counted and the
// count is surfaced when the window rolls over.
type Throttle struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*throttleEntry
}

type throttleEntry struct {
	windowStart time.Time
	suppressed  int
}

// NewThrottle creates a throttle with the given suppression window.
func NewThrottle(window time.Duration) *Throttle {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Throttle{
		window:  window,
		now:     time.Now,
		entries: make(map[string]*throttleEntry),
	}
}

// Allow reports whether an alert with this key may send now. When it may,
// the second return value is the number of repeats suppressed since the
// key last sent, for inclusion as a digest.
func (t *Throttle) Allow(key string) (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.entries[key]
	if !ok || now.Sub(entry.windowStart) >= t.window {
		suppressed := 0
		if ok {
			suppressed = entry.suppressed
		}
		t.entries[key] = &throttleEntry{windowStart: now}
		return true, suppressed
	}
	entry.suppressed++
	return false, 0
}

// Reset clears all throttle state.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*throttleEntry)
}
