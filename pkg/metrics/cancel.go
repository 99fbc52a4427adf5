// Cancel-object metrics definitions
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"net/http"
)

// CancelMetrics holds the metrics exported by the cancel-object host.
type CancelMetrics struct {
	// Queue filter
	CommandsForwarded  *Counter
	CommandsSuppressed *Counter
	Skipping           *Gauge

	// Registry
	ObjectsKnown     *Gauge
	ObjectsCancelled *Counter
	ScanLines        *Counter
	ScanFailures     *Counter
	ScanDuration     *Histogram

	// Jobs
	JobsTotal *Counter

	// Websocket feed
	WebsocketClients *Gauge

	registry *Registry
}

// NewCancelMetrics creates and registers every metric on a fresh registry.
func NewCancelMetrics() *CancelMetrics {
	m := &CancelMetrics{
		CommandsForwarded: NewCounter("cancelobject_commands_forwarded_total",
			"Commands forwarded to the machine"),
		CommandsSuppressed: NewCounter("cancelobject_commands_suppressed_total",
			"Commands suppressed by the queue filter"),
		Skipping: NewGauge("cancelobject_skipping",
			"1 while the queue filter is skipping commands"),
		ObjectsKnown: NewGauge("cancelobject_objects",
			"Objects registered for the current print"),
		ObjectsCancelled: NewCounter("cancelobject_objects_cancelled_total",
			"Objects cancelled by an operator"),
		ScanLines: NewCounter("cancelobject_scan_lines_total",
			"Lines read while scanning print files"),
		ScanFailures: NewCounter("cancelobject_scan_failures_total",
			"Lines that could not be processed while scanning"),
		ScanDuration: NewHistogram("cancelobject_scan_seconds",
			"Time spent scanning a print file", ExponentialBuckets(0.001, 4, 8)),
		JobsTotal: NewCounter("cancelobject_jobs_total",
			"Print jobs by final status"),
		WebsocketClients: NewGauge("cancelobject_websocket_clients",
			"Connected websocket clients"),
		registry: NewRegistry(),
	}
	m.registry.MustRegister(
		m.CommandsForwarded,
		m.CommandsSuppressed,
		m.Skipping,
		m.ObjectsKnown,
		m.ObjectsCancelled,
		m.ScanLines,
		m.ScanFailures,
		m.ScanDuration,
		m.JobsTotal,
		m.WebsocketClients,
	)
	return m
}

// Registry returns the underlying registry.
func (m *CancelMetrics) Registry() *Registry {
	return m.registry
}

// Gather returns every metric in Prometheus text format.
func (m *CancelMetrics) Gather() string {
	return m.registry.Gather()
}

// Handler serves the metrics in Prometheus text format.
func (m *CancelMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(m.Gather()))
		}
	})
}
