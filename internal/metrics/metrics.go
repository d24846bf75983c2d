// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the recording core.
// Labels are intentionally low-cardinality: no session ids, no paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircap_session_outcome_total",
		Help: "Total number of sessions reaching a terminal stage, by outcome.",
	}, []string{"outcome"})

	stageTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircap_stage_transitions_total",
		Help: "Total number of session stage transitions.",
	}, []string{"from", "to"})

	stageRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircap_stage_retries_total",
		Help: "Total number of stage retries, by stage.",
	}, []string{"stage"})

	admissionRejectTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aircap_admission_reject_total",
		Help: "Total number of sessions rejected because the concurrency gate was saturated.",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aircap_active_sessions",
		Help: "Number of sessions currently holding a concurrency slot.",
	})

	captureExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircap_capture_exit_total",
		Help: "Total number of capture process exits, by reason.",
	}, []string{"reason"})

	transferBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aircap_transfer_bytes_total",
		Help: "Total bytes acknowledged by the remote end.",
	})

	busDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircap_bus_dropped_total",
		Help: "Total number of bus publishes dropped, by topic and reason.",
	}, []string{"topic", "reason"})
)

// IncSessionOutcome records a terminal session outcome.
func IncSessionOutcome(outcome string) {
	sessionOutcomeTotal.WithLabelValues(outcome).Inc()
}

// IncStageTransition records a stage edge being taken.
func IncStageTransition(from, to string) {
	stageTransitionsTotal.WithLabelValues(from, to).Inc()
}

// IncStageRetry records a retry of the given stage.
func IncStageRetry(stage string) {
	stageRetriesTotal.WithLabelValues(stage).Inc()
}

// IncAdmissionReject records a fail-fast gate rejection.
func IncAdmissionReject() {
	admissionRejectTotal.Inc()
}

// SetActiveSessions tracks concurrency slot usage.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// IncCaptureExit records how a capture process ended.
// reason is one of: clean, limit, error, cancelled.
func IncCaptureExit(reason string) {
	captureExitTotal.WithLabelValues(reason).Inc()
}

// AddTransferBytes accumulates acknowledged transfer volume.
func AddTransferBytes(n int64) {
	if n > 0 {
		transferBytesTotal.Add(float64(n))
	}
}

// IncBusDropped records a publish dropped due to context cancellation.
func IncBusDropped(topic, reason string) {
	busDroppedTotal.WithLabelValues(topic, reason).Inc()
}
