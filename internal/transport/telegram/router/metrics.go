package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts handled commands. A nil *Metrics records nothing.
type Metrics struct {
	commands *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		commands: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "watchme_commands_total",
			Help: "Bot commands by route and result.",
		}, []string{"cmd", "result"}),
	}
}

func (m *Metrics) command(cmd, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(cmd, result).Inc()
}
