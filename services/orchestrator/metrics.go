package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"modkit/services/mods"
)

// Metrics records build outcomes.
type Metrics struct {
	builds   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	skipped  prometheus.Counter
}

// NewMetrics registers the build collectors with reg. A nil reg yields unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modkit",
			Name:      "builds_total",
			Help:      "Platform builds by result.",
		}, []string{"platform", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modkit",
			Name:      "build_duration_seconds",
			Help:      "Duration of platform builds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"platform"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modkit",
			Name:      "builds_skipped_total",
			Help:      "Packs skipped because no content changed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.builds, m.duration, m.skipped)
	}
	return m
}

func (m *Metrics) observeBuild(p mods.Platform, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.builds.WithLabelValues(string(p), result).Inc()
	m.duration.WithLabelValues(string(p)).Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeSkip() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}
