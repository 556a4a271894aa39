// Package metrics exposes Prometheus instrumentation for the automation engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Operation metrics
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowpilot",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Generate and upscale calls by outcome",
		},
		[]string{"operation", "outcome"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowpilot",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Duration of generate and upscale calls",
			Buckets:   prometheus.ExponentialBuckets(1, 1.6, 12), // 1s to ~3min
		},
		[]string{"operation"},
	)

	ImagesCaptured = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowpilot",
			Subsystem: "engine",
			Name:      "images_captured_total",
			Help:      "Result images captured from the page",
		},
	)

	// Page metrics
	WebsiteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowpilot",
			Subsystem: "page",
			Name:      "website_errors_total",
			Help:      "Error signals observed on the page",
		},
		[]string{"kind"},
	)

	PageReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowpilot",
			Subsystem: "page",
			Name:      "reloads_total",
			Help:      "Page reloads performed for recovery",
		},
		[]string{"reason"},
	)

	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowpilot",
			Subsystem: "page",
			Name:      "uploads_total",
			Help:      "Reference image uploads by outcome",
		},
		[]string{"outcome"},
	)

	// Session metrics
	SessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowpilot",
			Subsystem: "session",
			Name:      "state",
			Help:      "1 for the current session state, 0 otherwise",
		},
		[]string{"state"},
	)

	QueueRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowpilot",
			Subsystem: "session",
			Name:      "queue_rejections_total",
			Help:      "Commands rejected because the session queue was full",
		},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowpilot",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route and status",
		},
		[]string{"route", "status"},
	)
)

// SetSessionState marks current as the active state among all.
func SetSessionState(all []string, current string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		SessionState.WithLabelValues(s).Set(v)
	}
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
