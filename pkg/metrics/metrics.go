package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transaction lifecycle metrics
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Total number of transactions by terminal status",
		},
		[]string{"status"},
	)

	TransactionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_transactions_active",
			Help: "Number of currently ACTIVE transactions",
		},
	)

	// Concurrency-control metrics
	LockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_lock_wait_duration_seconds",
			Help:    "Time a transaction spent WAITING on a resource before grant, die, or timeout",
			Buckets: prometheus.DefBuckets,
		},
	)

	LockConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_lock_conflicts_total",
			Help: "Total number of lock conflicts by outcome (waiting, die)",
		},
		[]string{"outcome"},
	)

	ValidationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_occ_validation_failures_total",
			Help: "Total number of OCC backward-validation failures at commit",
		},
	)

	// WAL metrics
	WALFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_wal_flush_duration_seconds",
			Help:    "Time taken to fsync the write-ahead log",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_wal_records_total",
			Help: "Total number of WAL records appended by kind",
		},
		[]string{"kind"},
	)

	WALRecoveredRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_wal_recovered_records",
			Help: "Number of OP records redone during the most recent recovery",
		},
	)

	// Query executor metrics
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_query_duration_seconds",
			Help:    "Statement execution duration in seconds by plan root kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_queries_total",
			Help: "Total number of executed statements by outcome",
		},
		[]string{"outcome"},
	)

	// Network server / retry dispatcher metrics
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_connections_active",
			Help: "Number of currently open client connections",
		},
	)

	RetryQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_retry_queue_depth",
			Help: "Number of items currently queued in the retry dispatcher",
		},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_retries_total",
			Help: "Total number of retry-dispatcher re-executions by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(TransactionsTotal)
	prometheus.MustRegister(TransactionsActive)
	prometheus.MustRegister(LockWaitDuration)
	prometheus.MustRegister(LockConflictsTotal)
	prometheus.MustRegister(ValidationFailuresTotal)
	prometheus.MustRegister(WALFlushDuration)
	prometheus.MustRegister(WALRecordsTotal)
	prometheus.MustRegister(WALRecoveredRecords)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(RetryQueueDepth)
	prometheus.MustRegister(RetriesTotal)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
