// Package metrics defines prometheus metric types for the client's request
// path: wire latency, bytes transferred, reconnect activity, and catalog
// scan duration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestLatencyHistogram tracks round-trip latency of a single CIP
	// request, labeled by service code (e.g. "0x4c" for Read Tag).
	RequestLatencyHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "goeip_request_latency_seconds",
			Help: "CIP request round-trip latency distribution (seconds)",
			Buckets: []float64{
				0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
				0.25, 0.5, 1, 2.5, 5, 10,
			},
		},
		[]string{"service"})

	// BytesSentCounter counts bytes written to the wire.
	BytesSentCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goeip_bytes_sent_total",
			Help: "Total bytes sent to connected controllers.",
		},
	)

	// BytesReceivedCounter counts bytes read from the wire.
	BytesReceivedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goeip_bytes_received_total",
			Help: "Total bytes received from connected controllers.",
		},
	)

	// ReconnectCount counts ReconnectingConnection reconnect attempts,
	// labeled by outcome ("success" or "failure").
	ReconnectCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goeip_reconnect_total",
			Help: "Number of reconnect attempts by outcome.",
		}, []string{"outcome"})

	// RequestErrorCount counts CIP general-status errors, labeled by
	// status code.
	RequestErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goeip_request_error_total",
			Help: "Number of CIP requests that returned a non-success general status.",
		}, []string{"status"})

	// CatalogScanDurationHistogram tracks how long a controller- or
	// program-scoped tag directory scan takes.
	CatalogScanDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "goeip_catalog_scan_duration_seconds",
			Help:    "Tag directory scan duration distribution (seconds)",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"scope"})

	// CatalogTagCount tracks the number of tags known to a Catalog after
	// its most recent scan, labeled by scope ("controller" or a program
	// name).
	CatalogTagCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "goeip_catalog_tag_count",
			Help: "Number of tags in the catalog by scan scope.",
		}, []string{"scope"})

	// ActiveConnectionGauge tracks the number of currently open
	// Connections (spec.md §5 allows multiple parallel Connections via
	// pkg/plcpool).
	ActiveConnectionGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goeip_active_connections",
			Help: "Number of currently open connections.",
		},
	)
)
