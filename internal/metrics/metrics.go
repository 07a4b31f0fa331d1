// Package metrics exposes Prometheus collectors for the emotion bridge.
//
//   - emotion_detect_requests_total{outcome}: detect calls by outcome
//   - emotion_detect_duration_seconds: latency of calls that reached the worker
//   - emotion_pending_requests: requests waiting for a worker response
//   - emotion_worker_spawns_total{result}: spawn attempts (ok, failed)
//   - emotion_worker_exits_total: unexpected worker exits
//   - emotion_worker_disabled: 1 once the worker is permanently disabled
//   - emotion_dropped_lines_total{reason}: stdout lines not routed to a caller
//   - emotion_http_requests_total{route,status}: API requests
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Detect outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeWorkerError = "worker_error"
	OutcomeDisabled    = "disabled"
	OutcomeNotStarted  = "not_started"
	OutcomeTimeout     = "timeout"
	OutcomeCanceled    = "canceled"
	OutcomeWriteFailed = "write_failed"
	OutcomeSaturated   = "saturated"
	OutcomeStopped     = "stopped"
)

// Dropped line reasons.
const (
	DropMalformed = "malformed"
	DropOrphan    = "orphan"
	DropGlobalErr = "global_error"
)

var (
	DetectRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_detect_requests_total",
			Help: "Frame detection calls by outcome",
		},
		[]string{"outcome"},
	)

	DetectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "emotion_detect_duration_seconds",
			Help:    "Round-trip latency of frames sent to the worker",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 6, 10},
		},
	)

	PendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emotion_pending_requests",
			Help: "Requests awaiting a worker response",
		},
	)

	WorkerSpawns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_worker_spawns_total",
			Help: "Worker spawn attempts by result",
		},
		[]string{"result"},
	)

	WorkerExits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emotion_worker_exits_total",
			Help: "Unexpected worker process exits",
		},
	)

	WorkerDisabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emotion_worker_disabled",
			Help: "1 when the worker is permanently disabled",
		},
	)

	DroppedLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_dropped_lines_total",
			Help: "Worker stdout lines not delivered to any caller",
		},
		[]string{"reason"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_http_requests_total",
			Help: "API requests by route and status",
		},
		[]string{"route", "status"},
	)
)

// RecordDetect counts one detect call. A zero duration means the call never
// reached the worker and is left out of the latency histogram.
func RecordDetect(outcome string, d time.Duration) {
	DetectRequests.WithLabelValues(outcome).Inc()
	if d > 0 {
		DetectDuration.Observe(d.Seconds())
	}
}

// RecordDroppedLine counts a stdout line that no caller received.
func RecordDroppedLine(reason string) {
	DroppedLines.WithLabelValues(reason).Inc()
}

// RecordSpawn counts a spawn attempt.
func RecordSpawn(ok bool) {
	if ok {
		WorkerSpawns.WithLabelValues("ok").Inc()
		return
	}
	WorkerSpawns.WithLabelValues("failed").Inc()
}

// RecordHTTPRequest counts one API response. route is the chi pattern, not the
// raw path, so session ids do not explode the label set.
func RecordHTTPRequest(route string, status int) {
	HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
