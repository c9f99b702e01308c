package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Reesverleur/watchmebot/internal/eventbus"
	rtsup "github.com/Reesverleur/watchmebot/internal/runtime/supervisor"
	"github.com/Reesverleur/watchmebot/pkg/logx"
)

// Event types published on the bus.
const (
	EventSent       = "watch.sent"
	EventSuppressed = "watch.suppressed"
	EventFailed     = "watch.failed"
	EventThrottled  = "watch.throttled"
)

// Location is a shared space a subject can be present in.
type Location struct {
	ID   int64
	Name string
}

// PresenceEvent is a transition of one subject between "absent everywhere"
// (nil) and a location.
type PresenceEvent struct {
	SubjectID   TargetID
	SubjectName string
	Previous    *Location
	Current     *Location
	At          time.Time
}

// IsAppearance reports a transition from absent everywhere to present.
func (e PresenceEvent) IsAppearance() bool {
	return e.Previous == nil && e.Current != nil
}

// NotificationEvent is the bus payload for every watch.* event.
type NotificationEvent struct {
	Watcher     WatcherID
	Subject     TargetID
	SubjectName string
	Location    string
	Outcome     string
	Dropped     bool
	Error       string
	At          time.Time
}

// WatcherIndex answers "who watches this target". *Graph satisfies it.
type WatcherIndex interface {
	WatchersOf(target TargetID) []WatcherID
}

// Notifier performs one dispatch. *Dispatcher satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, n Notification) (Outcome, error)
}

type MonitorConfig struct {
	Workers   int
	QueueSize int
}

type job struct {
	n  Notification
	at time.Time
}

// Monitor turns appearance events into throttled dispatch jobs.
//
// Events are handled sequentially in arrival order. Dispatch runs on a
// bounded worker pool so a slow or failing send never delays the next event;
// a full queue drops the job instead of blocking.
type Monitor struct {
	index    WatcherIndex
	throttle *Throttle
	notifier Notifier
	bus      eventbus.Bus
	log      logx.Logger
	metrics  *Metrics
	now      func() time.Time

	mu        sync.Mutex
	cfg       MonitorConfig
	accepting bool
	queue     chan job
	sup       *rtsup.Supervisor
	stopDone  chan struct{}
	sendWG    sync.WaitGroup
}

func NewMonitor(index WatcherIndex, throttle *Throttle, notifier Notifier, cfg MonitorConfig, log logx.Logger, bus eventbus.Bus, m *Metrics) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if throttle == nil {
		throttle = NewThrottle(CooldownWindow)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Monitor{
		index:    index,
		throttle: throttle,
		notifier: notifier,
		bus:      bus,
		log:      log,
		metrics:  m,
		now:      time.Now,
		cfg:      cfg,
	}
}

func (m *Monitor) Throttle() *Throttle { return m.throttle }

// Start launches the dispatch workers. It is idempotent.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stopDone != nil {
		done := m.stopDone
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		m.mu.Lock()
	}
	if m.queue != nil {
		m.mu.Unlock()
		return
	}
	m.queue = make(chan job, m.cfg.QueueSize)
	m.accepting = true
	m.sup = rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "watch.dispatch"))),
		rtsup.WithCancelOnError(false),
	)
	sup, q, workers := m.sup, m.queue, m.cfg.Workers
	m.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			m.workerLoop(c, q)
			m.mu.Lock()
			stopping := m.stopDone != nil
			m.mu.Unlock()
			if stopping || c.Err() != nil {
				return context.Canceled
			}
			return errors.New("dispatch worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	m.log.Info("presence monitor started", logx.Int("workers", workers), logx.Int("queue", cap(q)))
}

// Stop stops intake and drains queued jobs until ctx is done.
func (m *Monitor) Stop(ctx context.Context) {
	m.mu.Lock()
	q, sup := m.queue, m.sup
	if q == nil {
		m.mu.Unlock()
		return
	}
	if m.stopDone != nil {
		done := m.stopDone
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	m.stopDone = done
	m.accepting = false
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		m.mu.Lock()
		m.queue = nil
		m.sup = nil
		m.stopDone = nil
		m.mu.Unlock()
	}()

	select {
	case <-done:
		m.log.Info("presence monitor stopped")
	case <-ctx.Done():
		// Drain deadline hit: cancel in-flight sends.
		sup.Cancel()
		m.log.Warn("presence monitor stop timed out", logx.Err(ctx.Err()))
	}
}

// Run handles events until ctx is done or events is closed.
func (m *Monitor) Run(ctx context.Context, events <-chan PresenceEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := m.Handle(ctx, ev); err != nil {
				m.log.Debug("presence event not handled", logx.Int64("subject", ev.SubjectID), logx.Err(err))
			}
		}
	}
}

// Handle processes one event and returns the number of dispatch jobs queued.
// Only appearances fan out; every watcher is throttled and queued on its own.
func (m *Monitor) Handle(ctx context.Context, ev PresenceEvent) (int, error) {
	if !ev.IsAppearance() {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	at := ev.At
	if at.IsZero() {
		at = m.now()
	}

	watchers := m.index.WatchersOf(ev.SubjectID)
	if len(watchers) == 0 {
		return 0, nil
	}
	m.log.Debug("appearance", logx.Int64("subject", ev.SubjectID), logx.String("location", ev.Current.Name), logx.Int("watchers", len(watchers)))

	queued := 0
	for _, w := range watchers {
		n := Notification{
			Watcher:      w,
			SubjectID:    ev.SubjectID,
			SubjectName:  ev.SubjectName,
			LocationName: ev.Current.Name,
		}
		if !m.throttle.ShouldNotify(w, ev.SubjectID, at) {
			m.metrics.incThrottled()
			m.publish(EventThrottled, n, at, "", false, nil)
			continue
		}
		if err := m.enqueue(job{n: n, at: at}); err != nil {
			m.metrics.incDropped()
			m.metrics.notification(Failed)
			m.log.Warn("notification dropped", logx.Int64("watcher", w), logx.Int64("subject", ev.SubjectID), logx.Err(err))
			m.publish(EventFailed, n, at, Failed.String(), true, err)
			if errors.Is(err, ErrStopped) {
				return queued, err
			}
			continue
		}
		queued++
	}
	return queued, nil
}

func (m *Monitor) enqueue(j job) error {
	m.mu.Lock()
	if !m.accepting || m.queue == nil {
		m.mu.Unlock()
		return ErrStopped
	}
	q := m.queue
	m.sendWG.Add(1)
	m.mu.Unlock()
	defer m.sendWG.Done()

	select {
	case q <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (m *Monitor) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			m.dispatch(ctx, j)
		}
	}
}

func (m *Monitor) dispatch(ctx context.Context, j job) {
	outcome, err := m.notifier.Dispatch(ctx, j.n)
	m.metrics.notification(outcome)

	fields := []logx.Field{
		logx.Int64("watcher", j.n.Watcher),
		logx.Int64("subject", j.n.SubjectID),
		logx.String("outcome", outcome.String()),
	}
	switch outcome {
	case Sent:
		m.log.Info("notification sent", fields...)
		m.publish(EventSent, j.n, j.at, outcome.String(), false, nil)
	case Suppressed:
		m.log.Info("notification suppressed", append(fields, logx.Err(err))...)
		m.publish(EventSuppressed, j.n, j.at, outcome.String(), false, err)
	default:
		m.log.Warn("notification failed", append(fields, logx.Err(err))...)
		m.publish(EventFailed, j.n, j.at, Failed.String(), false, err)
	}
}

func (m *Monitor) publish(typ string, n Notification, at time.Time, outcome string, dropped bool, err error) {
	if m.bus == nil {
		return
	}
	ev := NotificationEvent{
		Watcher:     n.Watcher,
		Subject:     n.SubjectID,
		SubjectName: n.SubjectName,
		Location:    n.LocationName,
		Outcome:     outcome,
		Dropped:     dropped,
		At:          at,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	m.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
