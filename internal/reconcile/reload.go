package reconcile

import (
	"sync"
	"time"
)

// ReloadTracker rate limits reloads triggered by topology changes.
//
// Changes are only looked at once the reload delay has elapsed since the
// tracker was created. Each reload increments the count, and the delay
// doubles with the count up to a maximum:
//
//	count 0:  base / 2
//	count n:  min(base * 2^(n-1), max)
//
// A new tracker starts counting from its creation time; pass the previous
// count to keep the backoff across a reload.
type ReloadTracker struct {
	base    time.Duration
	max     time.Duration
	created time.Time

	mu    sync.Mutex
	count int
	delay time.Duration
}

// NewReloadTracker creates a tracker.
//
// Parameters:
//   - base: Delay after the first reload; a fresh tracker waits half of it
//   - max: Upper bound of the delay
//   - count: Reloads already performed, carried over from a previous tracker
//   - now: Creation time
func NewReloadTracker(base, max time.Duration, count int, now time.Time) *ReloadTracker {
	t := &ReloadTracker{base: base, max: max, created: now}
	t.SetCount(count)
	return t
}

// Count returns the number of reloads.
func (t *ReloadTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// SetCount sets the number of reloads and recomputes the delay.
func (t *ReloadTracker) SetCount(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if count < 0 {
		count = 0
	}
	t.count = count
	t.delay = reloadDelay(t.base, t.max, count)
}

// Delay returns the current reload delay.
func (t *ReloadTracker) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

// Due reports whether changes may be checked at now.
func (t *ReloadTracker) Due(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return now.Sub(t.created) >= t.delay
}

// Trigger records a reload and returns the new count.
func (t *ReloadTracker) Trigger() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.delay = reloadDelay(t.base, t.max, t.count)
	return t.count
}

func reloadDelay(base, max time.Duration, count int) time.Duration {
	if count == 0 {
		return min(base/2, max)
	}
	d := base
	for i := 1; i < count; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return min(d, max)
}
