// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

// Package metrics holds the Prometheus instrumentation for Chronoscope.
//
// Metrics are registered on the default registry at package init through
// promauto and exposed by the API layer at /metrics. Call sites use the
// Record* helpers rather than touching collectors directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session Metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronoscope_sessions_active",
			Help: "Current number of connected client sessions",
		},
	)

	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronoscope_sessions_total",
			Help: "Total number of client sessions accepted",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronoscope_messages_sent_total",
			Help: "Total number of messages written to clients",
		},
		[]string{"kind"}, // "data", "time", "playback_state", "json"
	)

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronoscope_messages_received_total",
			Help: "Total number of client requests received",
		},
		[]string{"op"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronoscope_frames_dropped_total",
			Help: "Total number of outbound frames dropped before the socket",
		},
		[]string{"reason"}, // "unsubscribed", "slow_client", "rate_limited"
	)

	CapabilityDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronoscope_capability_denials_total",
			Help: "Total number of requests rejected for a missing capability",
		},
		[]string{"capability"},
	)

	ProtocolErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronoscope_protocol_errors_total",
			Help: "Total number of malformed or unknown-reference requests",
		},
		[]string{"op"},
	)

	// Playback Metrics
	PlaybackControlRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronoscope_playback_control_requests_total",
			Help: "Total number of playback control requests handled",
		},
		[]string{"command", "seek"},
	)

	PlaybackStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronoscope_playback_status",
			Help: "Playback status of the shared controller (0=paused, 1=playing, 2=ended)",
		},
		[]string{"source"},
	)

	PlaybackCurrentTime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronoscope_playback_current_time_seconds",
			Help: "Logical time of the last committed record, in seconds",
		},
		[]string{"source"},
	)

	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronoscope_records_emitted_total",
			Help: "Total number of records committed by playback sources",
		},
		[]string{"source"},
	)

	BackingStoreFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronoscope_backing_store_faults_total",
			Help: "Total number of records skipped because the backing log failed to read them",
		},
		[]string{"source"},
	)

	PacingLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chronoscope_pacing_lag_seconds",
			Help:    "Delay between a record's wakeup deadline and its emission",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Parameter Metrics
	ParameterOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronoscope_parameter_operations_total",
			Help: "Total number of parameter get/set operations",
		},
		[]string{"operation"},
	)

	// Service and Asset Metrics
	ServiceCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronoscope_service_calls_total",
			Help: "Total number of service calls by outcome",
		},
		[]string{"service", "result"}, // "ok", "error", "unknown_service", "bad_encoding"
	)

	AssetFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronoscope_asset_fetches_total",
			Help: "Total number of fetchAsset requests by outcome",
		},
		[]string{"result"},
	)

	// Ingest / Recorder Metrics
	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronoscope_ingest_messages_total",
			Help: "Total number of live messages consumed from the broker",
		},
		[]string{"status"}, // "ok", "invalid"
	)

	RecorderWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronoscope_recorder_writes_total",
			Help: "Total number of recorder append attempts",
		},
		[]string{"status"}, // "ok", "error", "rejected"
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronoscope_api_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chronoscope_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronoscope_api_active_requests",
			Help: "Current number of in-flight HTTP API requests",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronoscope_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordSessionOpened tracks a newly registered session.
func RecordSessionOpened() {
	SessionsActive.Inc()
	SessionsTotal.Inc()
}

// RecordSessionClosed tracks a session leaving the hub.
func RecordSessionClosed() {
	SessionsActive.Dec()
}

// RecordMessageSent counts an outbound frame by kind.
func RecordMessageSent(kind string) {
	MessagesSent.WithLabelValues(kind).Inc()
}

// RecordMessageReceived counts an inbound request by op.
func RecordMessageReceived(op string) {
	MessagesReceived.WithLabelValues(op).Inc()
}

// RecordFrameDropped counts an outbound frame discarded for reason.
func RecordFrameDropped(reason string) {
	FramesDropped.WithLabelValues(reason).Inc()
}

// RecordCapabilityDenied counts a request rejected for a missing capability.
func RecordCapabilityDenied(capability string) {
	CapabilityDenials.WithLabelValues(capability).Inc()
}

// RecordProtocolError counts a malformed or unresolvable request.
func RecordProtocolError(op string) {
	ProtocolErrors.WithLabelValues(op).Inc()
}

// RecordControlRequest counts a playback control request.
func RecordControlRequest(command string, seek bool) {
	s := "false"
	if seek {
		s = "true"
	}
	PlaybackControlRequests.WithLabelValues(command, s).Inc()
}

// UpdatePlaybackState publishes the shared controller's status and position.
func UpdatePlaybackState(source string, status int, currentTimeNs uint64) {
	PlaybackStatus.WithLabelValues(source).Set(float64(status))
	PlaybackCurrentTime.WithLabelValues(source).Set(float64(currentTimeNs) / float64(time.Second))
}

// RecordRecordEmitted counts a committed record and how late it was.
func RecordRecordEmitted(source string, lag time.Duration) {
	RecordsEmitted.WithLabelValues(source).Inc()
	if lag >= 0 {
		PacingLag.Observe(lag.Seconds())
	}
}

// RecordBackingStoreFault counts a skipped unreadable record.
func RecordBackingStoreFault(source string) {
	BackingStoreFaults.WithLabelValues(source).Inc()
}

// RecordParameterOperation counts a parameter get or set.
func RecordParameterOperation(operation string) {
	ParameterOperations.WithLabelValues(operation).Inc()
}

// RecordServiceCall counts a service call outcome.
func RecordServiceCall(service, result string) {
	ServiceCalls.WithLabelValues(service, result).Inc()
}

// RecordAssetFetch counts a fetchAsset outcome.
func RecordAssetFetch(result string) {
	AssetFetches.WithLabelValues(result).Inc()
}

// RecordIngest counts a consumed live message.
func RecordIngest(status string) {
	IngestMessages.WithLabelValues(status).Inc()
}

// RecordRecorderWrite counts a recorder append outcome.
func RecordRecorderWrite(status string) {
	RecorderWrites.WithLabelValues(status).Inc()
}

// UpdateCircuitBreakerState sets the breaker gauge (0=closed, 1=half-open, 2=open).
func UpdateCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordAPIRequest records a completed HTTP request. route is the matched
// pattern, not the raw path.
func RecordAPIRequest(method, route, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
