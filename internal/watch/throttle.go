package watch

import (
	"sync"
	"time"
)

// CooldownWindow is the minimum time between two notifications for the same
// (watcher, target) pair.
const CooldownWindow = time.Hour

type pair struct {
	watcher WatcherID
	target  TargetID
}

// Throttle tracks when each pair was last notified. Records live in memory
// only and are never removed; a restart resets every cooldown.
type Throttle struct {
	window time.Duration

	mu   sync.Mutex
	last map[pair]time.Time
}

func NewThrottle(window time.Duration) *Throttle {
	if window <= 0 {
		window = CooldownWindow
	}
	return &Throttle{window: window, last: make(map[pair]time.Time)}
}

// ShouldNotify reports whether the pair may be notified at now. When it
// returns true the record is already updated to now, before any send.
func (t *Throttle) ShouldNotify(watcher WatcherID, target TargetID, now time.Time) bool {
	k := pair{watcher, target}
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.last[k]; ok && now.Sub(prev) < t.window {
		return false
	}
	t.last[k] = now
	return true
}

func (t *Throttle) LastNotified(watcher WatcherID, target TargetID) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.last[pair{watcher, target}]
	return ts, ok
}

func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}
