// Package metrics holds the Prometheus collectors shared by the decoders,
// the ingest path and the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dslog"

var (
	// RecordsDecoded counts records produced by the decoders, by kind
	// ("telemetry" or "event").
	RecordsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_decoded_total",
		Help:      "Records decoded from log files.",
	}, []string{"kind"})

	// TruncatedFiles counts files whose record stream ended in a partial frame.
	TruncatedFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "truncated_files_total",
		Help:      "Files that ended with a truncated record.",
	}, []string{"kind"})

	// InvalidEvents counts event messages rejected for non-ASCII content.
	InvalidEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invalid_events_total",
		Help:      "Event records whose message was not ASCII.",
	})

	// LogsIngested counts files stored in the database, by kind.
	LogsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logs_ingested_total",
		Help:      "Log files stored in the database.",
	}, []string{"kind"})

	// HTTPRequests counts API requests by route template and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "API requests served.",
	}, []string{"route", "code"})

	// HTTPDuration observes API latency by route template.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)
