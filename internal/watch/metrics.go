package watch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	notifications    *prometheus.CounterVec
	throttled        prometheus.Counter
	dropped          prometheus.Counter
	mutations        *prometheus.CounterVec
	persistFailures  prometheus.Counter
	dispatchDuration prometheus.Histogram
	watchers         prometheus.Gauge
	edges            prometheus.Gauge
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchme_notifications_total",
			Help: "Dispatch attempts by outcome (sent, suppressed, error).",
		}, []string{"outcome"}),
		throttled: f.NewCounter(prometheus.CounterOpts{
			Name: "watchme_notifications_throttled_total",
			Help: "Appearances skipped because the pair was inside its cooldown window.",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "watchme_dispatch_dropped_total",
			Help: "Dispatch jobs dropped because the queue was full or stopped.",
		}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchme_graph_mutations_total",
			Help: "Watch graph mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		persistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "watchme_graph_persist_failures_total",
			Help: "Graph mutations rejected because the snapshot write failed.",
		}),
		dispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchme_dispatch_duration_seconds",
			Help:    "Time spent sending one notification.",
			Buckets: prometheus.DefBuckets,
		}),
		watchers: f.NewGauge(prometheus.GaugeOpts{
			Name: "watchme_graph_watchers",
			Help: "Watchers with a stored watchlist.",
		}),
		edges: f.NewGauge(prometheus.GaugeOpts{
			Name: "watchme_graph_edges",
			Help: "Total (watcher, target) relationships.",
		}),
	}
}

func (m *Metrics) notification(o Outcome) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) incThrottled() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}

func (m *Metrics) incDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) mutation(op string, o Outcome) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, o.String()).Inc()
}

func (m *Metrics) incPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) observeDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.Observe(d.Seconds())
}

func (m *Metrics) setGraphSize(watchers, edges int) {
	if m == nil {
		return
	}
	m.watchers.Set(float64(watchers))
	m.edges.Set(float64(edges))
}
