// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsProcessed  *prometheus.CounterVec
	EventsDuplicate  prometheus.Counter
	EventsStale      prometheus.Counter
	EventsFailed     *prometheus.CounterVec
	DebounceReleases prometheus.Counter
	HighestBlockSeen *prometheus.GaugeVec

	// Ledger read metrics
	LedgerCallLatency *prometheus.HistogramVec
	LedgerCallErrors  *prometheus.CounterVec

	// Scanner metrics
	ScanRunsTotal       *prometheus.CounterVec
	ScanDuration        prometheus.Histogram
	CandidatesFound     prometheus.Gauge
	PositionsInspected  prometheus.Counter
	CandidateReadErrors prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastProcessedEvent prometheus.Gauge
	LastSuccessfulScan prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lendmirror"
	}

	return &Metrics{
		// Ingestion metrics
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_processed_total",
			Help:      "Total number of events fully processed by type",
		}, []string{"event_type"}),
		EventsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_duplicate_total",
			Help:      "Total number of notifications discarded as duplicates",
		}),
		EventsStale: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_stale_total",
			Help:      "Total number of notifications discarded as below the watermark",
		}),
		EventsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_failed_total",
			Help:      "Total number of events that failed processing by category",
		}, []string{"event_type", "category"}),
		DebounceReleases: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "debounce_releases_total",
			Help:      "Total number of debounce windows that expired and released",
		}),
		HighestBlockSeen: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_block_seen",
			Help:      "Highest block number committed per stream",
		}, []string{"stream"}),

		// Ledger read metrics
		LedgerCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "call_latency_seconds",
			Help:      "Ledger RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		LedgerCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "call_errors_total",
			Help:      "Total number of ledger RPC call errors",
		}, []string{"method"}),

		// Scanner metrics
		ScanRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "runs_total",
			Help:      "Total number of liquidation scans by status",
		}, []string{"status"}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "duration_seconds",
			Help:      "Liquidation scan duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		CandidatesFound: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "candidates_found",
			Help:      "Number of liquidation candidates found by the last scan",
		}),
		PositionsInspected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "positions_inspected_total",
			Help:      "Total number of positions read live during scans",
		}),
		CandidateReadErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "candidate_read_errors_total",
			Help:      "Total number of per-position read failures tolerated during scans",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastProcessedEvent: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_processed_event_timestamp",
			Help:      "Unix timestamp of the last fully processed event",
		}),
		LastSuccessfulScan: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_scan_timestamp",
			Help:      "Unix timestamp of the last successful liquidation scan",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventProcessed increments the processed counter for one event type.
func RecordEventProcessed(eventType string) {
	DefaultMetrics.EventsProcessed.WithLabelValues(eventType).Inc()
}

// RecordDuplicate increments the duplicate discard counter.
func RecordDuplicate() {
	DefaultMetrics.EventsDuplicate.Inc()
}

// RecordStale increments the stale discard counter.
func RecordStale() {
	DefaultMetrics.EventsStale.Inc()
}

// RecordEventFailed records a failed event with its failure category.
func RecordEventFailed(eventType, category string) {
	DefaultMetrics.EventsFailed.WithLabelValues(eventType, category).Inc()
}

// UpdateHighestBlock updates the per-stream block gauge.
func UpdateHighestBlock(stream string, block uint64) {
	DefaultMetrics.HighestBlockSeen.WithLabelValues(stream).Set(float64(block))
}

// RecordLedgerCall records one ledger RPC call.
func RecordLedgerCall(method string, seconds float64, err error) {
	DefaultMetrics.LedgerCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.LedgerCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordScan records one liquidation scan run.
func RecordScan(status string, durationSeconds float64, candidates int) {
	DefaultMetrics.ScanRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.ScanDuration.Observe(durationSeconds)
	DefaultMetrics.CandidatesFound.Set(float64(candidates))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
