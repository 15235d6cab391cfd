package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the analysis pipeline.
// A single instance is shared by all sessions; per-session isolation is not
// required because counters only ever increase.
type Metrics struct {
	FramesProcessed   prometheus.Counter
	DetectionsTracked prometheus.Counter
	DetectionsInvalid prometheus.Counter
	SessionsCompleted *prometheus.CounterVec
	SessionsActive    prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a Metrics instance with its own registry so tests can
// create independent instances without collector name collisions.
func NewMetrics() *Metrics {
	m := &Metrics{
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_frames_processed_total",
			Help: "Frames consumed by the tracking pipeline.",
		}),
		DetectionsTracked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_detections_tracked_total",
			Help: "Valid detections associated to tracks.",
		}),
		DetectionsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_detections_invalid_total",
			Help: "Detections rejected as malformed.",
		}),
		SessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_sessions_completed_total",
			Help: "Sessions finished, by outcome.",
		}, []string{"outcome"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engagement_sessions_active",
			Help: "Sessions currently processing.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FramesProcessed,
		m.DetectionsTracked,
		m.DetectionsInvalid,
		m.SessionsCompleted,
		m.SessionsActive,
	)
	return m
}

// Handler returns the HTTP handler serving this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
