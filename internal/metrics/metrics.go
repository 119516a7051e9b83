// Package metrics exposes OutlineBot's prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "outlinebot"

	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

var (
	// MessagesTotal counts inbound messages by dispatch outcome.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "messages_total",
			Help:      "Inbound messages by dispatch outcome",
		},
		[]string{"outcome"},
	)

	// CompletionDuration tracks completion API latency.
	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "genai",
			Name:      "completion_duration_seconds",
			Help:      "Completion request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	// BroadcastsTotal counts daily broadcast attempts.
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "attempts_total",
			Help:      "Daily broadcast attempts by status",
		},
		[]string{"status"},
	)

	// SelfPingsTotal counts keep-alive requests.
	SelfPingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "selfping",
			Name:      "requests_total",
			Help:      "Self-ping requests by status",
		},
		[]string{"status"},
	)

	// ConnectionUpdatesTotal counts transport connection changes.
	ConnectionUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "updates_total",
			Help:      "Connection updates by state and close reason",
		},
		[]string{"state", "reason"},
	)

	// ReconnectsTotal counts scheduled reconnects.
	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Reconnects scheduled after a non-terminal close",
		},
	)

	// PairingPageViews counts /qr requests by whether a code was shown.
	PairingPageViews = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "pairing_page_views_total",
			Help:      "Pairing page requests by result",
		},
		[]string{"result"},
	)
)

// RecordMessage records a dispatch outcome.
func RecordMessage(outcome string) {
	MessagesTotal.WithLabelValues(outcome).Inc()
}

// RecordCompletion records a completion call.
func RecordCompletion(status string, durationSec float64) {
	CompletionDuration.WithLabelValues(status).Observe(durationSec)
}

// RecordBroadcast records a broadcast attempt.
func RecordBroadcast(status string) {
	BroadcastsTotal.WithLabelValues(status).Inc()
}

// RecordSelfPing records a self-ping request.
func RecordSelfPing(status string) {
	SelfPingsTotal.WithLabelValues(status).Inc()
}

// RecordConnectionUpdate records a connection state change. reason is "" for
// updates that carry no close code.
func RecordConnectionUpdate(state, reason string) {
	ConnectionUpdatesTotal.WithLabelValues(state, reason).Inc()
}

// RecordReconnect records a scheduled reconnect.
func RecordReconnect() {
	ReconnectsTotal.Inc()
}

// RecordPairingPageView records a /qr request.
func RecordPairingPageView(result string) {
	PairingPageViews.WithLabelValues(result).Inc()
}
