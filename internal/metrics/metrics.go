/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the rebelz client.
//
// All metrics are registered with the package Registry, which the CLI serves
// on --metrics-addr when set.
//
// Metric naming follows Prometheus conventions:
//   - rebelz_client_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every client metric.
var Registry = prometheus.NewRegistry()

var (
	// RequestsTotal counts API requests by method, route template and status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebelz_client_requests_total",
			Help: "Total number of API requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDurationSeconds is a histogram of API request latency.
	RequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rebelz_client_request_duration_seconds",
			Help:    "Latency of API requests in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// UnauthorizedTotal counts 401 responses that forced a logout.
	UnauthorizedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rebelz_client_unauthorized_total",
			Help: "Total 401 responses that cleared the stored token.",
		},
	)

	// SessionResolutionsTotal counts session resolutions by outcome.
	SessionResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebelz_client_session_resolutions_total",
			Help: "Total session resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	// StreamReconnectsTotal counts reconnect attempts by stream.
	StreamReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebelz_client_stream_reconnects_total",
			Help: "Total reconnect attempts on live streams.",
		},
		[]string{"stream"},
	)

	// StreamConnected is 1 while the named stream is open.
	StreamConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rebelz_client_stream_connected",
			Help: "Whether a live stream is currently connected.",
		},
		[]string{"stream"},
	)

	// AssistantMessagesTotal counts conversation messages by role and kind.
	AssistantMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebelz_client_assistant_messages_total",
			Help: "Total assistant conversation messages by role and kind.",
		},
		[]string{"role", "kind"},
	)

	// DroppedFramesTotal counts malformed stream frames that were discarded.
	DroppedFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebelz_client_dropped_frames_total",
			Help: "Total malformed frames dropped by stream.",
		},
		[]string{"stream"},
	)

	// SubscriberDropsTotal counts updates not delivered because a
	// subscriber's buffer was full.
	SubscriberDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebelz_client_subscriber_drops_total",
			Help: "Total updates skipped for slow subscribers by source.",
		},
		[]string{"source"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RequestsTotal,
		RequestDurationSeconds,
		UnauthorizedTotal,
		SessionResolutionsTotal,
		StreamReconnectsTotal,
		StreamConnected,
		AssistantMessagesTotal,
		DroppedFramesTotal,
		SubscriberDropsTotal,
	)
}

// Handler serves the client registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordRequest records one completed API request.
func RecordRequest(method, route string, status int, duration time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	RequestsTotal.WithLabelValues(method, route, code).Inc()
	RequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordUnauthorized records a forced logout.
func RecordUnauthorized() {
	UnauthorizedTotal.Inc()
}

// RecordSessionResolution records a resolution outcome
// ("authenticated", "anonymous", "expired", "failed").
func RecordSessionResolution(outcome string) {
	SessionResolutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordReconnect records one reconnect attempt on stream.
func RecordReconnect(stream string) {
	StreamReconnectsTotal.WithLabelValues(stream).Inc()
}

// SetConnected flips the connection gauge for stream.
func SetConnected(stream string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	StreamConnected.WithLabelValues(stream).Set(v)
}

// RecordAssistantMessage records a message appended to the conversation.
func RecordAssistantMessage(role, kind string) {
	AssistantMessagesTotal.WithLabelValues(role, kind).Inc()
}

// RecordDroppedFrame records a malformed frame.
func RecordDroppedFrame(stream string) {
	DroppedFramesTotal.WithLabelValues(stream).Inc()
}

// RecordSubscriberDrop records an update a full subscriber buffer missed.
func RecordSubscriberDrop(source string) {
	SubscriberDropsTotal.WithLabelValues(source).Inc()
}
