package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records pipeline outcomes and stage latencies. A nil *Metrics is a
// no-op.
type Metrics struct {
	requests      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tagging",
			Name:      "recognitions_total",
			Help:      "Recognition requests by backend and outcome.",
		}, []string{"backend", "outcome"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tagging",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"backend", "stage"}),
	}
}

func (m *Metrics) ObserveStage(backend, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(backend, stage).Observe(d.Seconds())
}

func (m *Metrics) IncRequest(backend, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(backend, outcome).Inc()
}
