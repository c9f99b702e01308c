package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Reesverleur/watchmebot/internal/eventbus"
	"github.com/Reesverleur/watchmebot/pkg/logx"
)

type staticIndex map[TargetID][]WatcherID

func (s staticIndex) WatchersOf(t TargetID) []WatcherID { return s[t] }

func startMonitor(t *testing.T, idx WatcherIndex, th *Throttle, n Notifier, cfg MonitorConfig, bus eventbus.Bus) *Monitor {
	t.Helper()
	m := NewMonitor(idx, th, n, cfg, logx.Nop(), bus, NewMetrics(prometheus.NewRegistry()))
	m.Start(context.Background())
	return m
}

func stopMonitor(t *testing.T, m *Monitor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.Stop(ctx)
}

func appear(subject int64, loc string, at time.Time) PresenceEvent {
	return PresenceEvent{SubjectID: subject, SubjectName: "Target", Current: &Location{ID: 1, Name: loc}, At: at}
}

func TestIsAppearance(t *testing.T) {
	t.Parallel()
	a, b := &Location{Name: "roomA"}, &Location{Name: "roomB"}
	tests := []struct {
		name      string
		prev, cur *Location
		want      bool
	}{
		{"absent to present", nil, b, true},
		{"switch spaces", a, b, false},
		{"leave", a, nil, false},
		{"absent to absent", nil, nil, false},
	}
	for _, tt := range tests {
		if got := (PresenceEvent{Previous: tt.prev, Current: tt.cur}).IsAppearance(); got != tt.want {
			t.Fatalf("%s: IsAppearance = %v", tt.name, got)
		}
	}
}

func TestMonitorTransitionFilter(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	d := newDispatcher(t, s, DispatcherConfig{})
	m := startMonitor(t, staticIndex{7: {1, 2}}, NewThrottle(CooldownWindow), d, MonitorConfig{}, nil)
	ctx := context.Background()
	now := time.Now()

	moved := PresenceEvent{SubjectID: 7, Previous: &Location{Name: "roomA"}, Current: &Location{Name: "roomB"}, At: now}
	if n, _ := m.Handle(ctx, moved); n != 0 {
		t.Fatalf("switch queued %d jobs", n)
	}
	left := PresenceEvent{SubjectID: 7, Previous: &Location{Name: "roomA"}, At: now}
	if n, _ := m.Handle(ctx, left); n != 0 {
		t.Fatalf("leave queued %d jobs", n)
	}
	if m.Throttle().Len() != 0 {
		t.Fatal("non-appearances must not touch the throttle")
	}
	if n, err := m.Handle(ctx, appear(7, "roomB", now)); n != 2 || err != nil {
		t.Fatalf("appearance queued %d jobs, err %v", n, err)
	}
	stopMonitor(t, m)

	for _, w := range []int64{1, 2} {
		if got := len(s.messagesTo(w)); got != 1 {
			t.Fatalf("watcher %d got %d messages, want 1", w, got)
		}
	}
}

func TestMonitorFanOutIndependence(t *testing.T) {
	t.Parallel()
	const a, b, target = 100, 200, 7
	th := NewThrottle(CooldownWindow)
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	th.ShouldNotify(a, target, base)

	s := &fakeSender{}
	m := startMonitor(t, staticIndex{target: {a, b}}, th, newDispatcher(t, s, DispatcherConfig{}), MonitorConfig{}, nil)
	if n, _ := m.Handle(context.Background(), appear(target, "lobby", base.Add(10*time.Minute))); n != 1 {
		t.Fatalf("queued %d jobs, want 1", n)
	}
	stopMonitor(t, m)

	if got := len(s.messagesTo(b)); got != 1 {
		t.Fatalf("B got %d messages, want 1", got)
	}
	if got := len(s.messagesTo(a)); got != 0 {
		t.Fatalf("A got %d messages, want 0", got)
	}
	if last, _ := th.LastNotified(a, target); !last.Equal(base) {
		t.Fatalf("A's cooldown moved to %v", last)
	}
}

func TestMonitorFailureForOneWatcherDoesNotAffectOthers(t *testing.T) {
	t.Parallel()
	s := &fakeSender{errs: map[int64]error{1: forbidden(), 2: errBoom}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	m := startMonitor(t, staticIndex{9: {1, 2, 3}}, NewThrottle(CooldownWindow), newDispatcher(t, s, DispatcherConfig{}), MonitorConfig{Workers: 3}, bus)
	now := time.Now()
	if _, err := m.Handle(context.Background(), appear(9, "lobby", now)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	stopMonitor(t, m)

	if got := len(s.messagesTo(3)); got != 1 {
		t.Fatalf("watcher 3 got %d messages", got)
	}
	seen := map[string]int{}
	for len(events) > 0 {
		e := <-events
		seen[e.Type]++
	}
	if seen[EventSent] != 1 || seen[EventSuppressed] != 1 || seen[EventFailed] != 1 {
		t.Fatalf("events = %v", seen)
	}
	// The cooldown is spent even though delivery failed.
	for _, w := range []int64{1, 2} {
		if _, ok := m.Throttle().LastNotified(w, 9); !ok {
			t.Fatalf("watcher %d has no cooldown record", w)
		}
	}
}

func TestMonitorEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := newGraph(t, &memPersister{})
	if out, err := g.AddTarget(ctx, 10, 20); err != nil || out != Added {
		t.Fatalf("AddTarget = %v, %v", out, err)
	}

	s := &fakeSender{}
	th := NewThrottle(CooldownWindow)
	m := startMonitor(t, g, th, newDispatcher(t, s, DispatcherConfig{}), MonitorConfig{}, nil)

	events := make(chan PresenceEvent, 2)
	now := time.Now()
	events <- PresenceEvent{SubjectID: 20, SubjectName: "Zed", Current: &Location{ID: -5, Name: "lobby"}, At: now}
	events <- PresenceEvent{SubjectID: 20, SubjectName: "Zed", Current: &Location{ID: -5, Name: "lobby"}, At: now.Add(10 * time.Second)}
	close(events)
	if err := m.Run(ctx, events); err != nil {
		t.Fatalf("Run: %v", err)
	}
	stopMonitor(t, m)

	msgs := s.messagesTo(10)
	if len(msgs) != 1 {
		t.Fatalf("watcher 10 got %d messages, want 1", len(msgs))
	}
	if msgs[0] != "<b>Zed</b> appeared in <b>lobby</b>" {
		t.Fatalf("message = %q", msgs[0])
	}
	if last, ok := th.LastNotified(10, 20); !ok || !last.Equal(now) {
		t.Fatalf("cooldown = %v, %v", last, ok)
	}
}

// blockingNotifier holds every dispatch until release is closed.
type blockingNotifier struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingNotifier) Dispatch(ctx context.Context, n Notification) (Outcome, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return Sent, nil
	case <-ctx.Done():
		return Failed, ctx.Err()
	}
}

func TestMonitorDropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	bn := &blockingNotifier{started: make(chan struct{}), release: make(chan struct{})}
	idx := staticIndex{1: {10}, 2: {20, 30}}
	m := startMonitor(t, idx, NewThrottle(CooldownWindow), bn, MonitorConfig{Workers: 1, QueueSize: 1}, nil)
	ctx := context.Background()
	now := time.Now()

	if n, _ := m.Handle(ctx, appear(1, "a", now)); n != 1 {
		t.Fatalf("first event queued %d", n)
	}
	<-bn.started

	done := make(chan int, 1)
	go func() {
		n, _ := m.Handle(ctx, appear(2, "b", now))
		done <- n
	}()
	select {
	case n := <-done:
		if n != 1 {
			t.Fatalf("second event queued %d, want 1 (one dropped)", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Handle blocked on a full queue")
	}
	close(bn.release)
	stopMonitor(t, m)
}

func TestMonitorHandleAfterStop(t *testing.T) {
	t.Parallel()
	m := startMonitor(t, staticIndex{1: {10}}, NewThrottle(CooldownWindow), &fakeNotifierOK{}, MonitorConfig{}, nil)
	stopMonitor(t, m)
	if _, err := m.Handle(context.Background(), appear(1, "a", time.Now())); !errors.Is(err, ErrStopped) {
		t.Fatalf("Handle after Stop err = %v", err)
	}
}

type fakeNotifierOK struct{}

func (*fakeNotifierOK) Dispatch(context.Context, Notification) (Outcome, error) { return Sent, nil }
