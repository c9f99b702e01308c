package watch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Reesverleur/watchmebot/internal/eventbus"
)

// StatsSnapshot is a point-in-time copy of the outcome counters.
type StatsSnapshot struct {
	Since      time.Time
	Sent       uint64
	Suppressed uint64
	Failed     uint64
	Dropped    uint64
	Throttled  uint64
	LastSent   time.Time
}

// Stats aggregates watch.* bus events since process start.
type Stats struct {
	mu   sync.Mutex
	snap StatsSnapshot
}

func NewStats() *Stats {
	return &Stats{snap: StatsSnapshot{Since: time.Now()}}
}

// Run consumes bus events until ctx is done.
func (s *Stats) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			s.Observe(e)
		}
	}
}

// Observe folds one event into the counters. Unrelated events are ignored.
func (s *Stats) Observe(e eventbus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e.Type {
	case EventSent:
		s.snap.Sent++
		s.snap.LastSent = e.Time
	case EventSuppressed:
		s.snap.Suppressed++
	case EventFailed:
		s.snap.Failed++
		if ne, ok := e.Data.(NotificationEvent); ok && ne.Dropped {
			s.snap.Dropped++
		}
	case EventThrottled:
		s.snap.Throttled++
	}
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Report is the text shown by /watchstats and the periodic log report.
type Report struct {
	Stats     StatsSnapshot
	Watchers  int
	Edges     int
	Cooldowns int
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Watch stats since %s\n", r.Stats.Since.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "watchers: %d, relationships: %d, cooldowns: %d\n", r.Watchers, r.Edges, r.Cooldowns)
	fmt.Fprintf(&b, "sent: %d, suppressed: %d, errors: %d (dropped %d), throttled: %d",
		r.Stats.Sent, r.Stats.Suppressed, r.Stats.Failed, r.Stats.Dropped, r.Stats.Throttled)
	if !r.Stats.LastSent.IsZero() {
		fmt.Fprintf(&b, "\nlast sent: %s", r.Stats.LastSent.UTC().Format(time.RFC3339))
	}
	return b.String()
}
