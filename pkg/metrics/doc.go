/*
Package metrics provides Prometheus metrics collection and exposition for ledger.

All metrics are package-level variables registered at init() time and
exposed over HTTP via Handler() (promhttp.Handler()), the same pattern the
wider example pack uses: no runtime registration, no passing a registry
around.

# Metrics Catalog

Transactions:
  - ledger_transactions_total{status}: terminal transactions by status
  - ledger_transactions_active: current ACTIVE transaction count

Concurrency control:
  - ledger_lock_wait_duration_seconds: time spent WAITING before grant/die/timeout
  - ledger_lock_conflicts_total{outcome}: conflicts by outcome (waiting, die)
  - ledger_occ_validation_failures_total: backward-validation failures at commit

Write-ahead log:
  - ledger_wal_flush_duration_seconds: fsync latency
  - ledger_wal_records_total{kind}: appended records by kind
  - ledger_wal_recovered_records: OP records redone by the last recovery

Query executor:
  - ledger_query_duration_seconds{kind}: statement latency by plan root kind
  - ledger_queries_total{outcome}: executed statements by outcome

Network server:
  - ledger_connections_active: open client connections
  - ledger_retry_queue_depth: items queued in the retry dispatcher
  - ledger_retries_total{outcome}: retry re-executions by outcome

# Usage

	timer := metrics.NewTimer()
	// ... acquire lock, possibly wait ...
	timer.ObserveDuration(metrics.LockWaitDuration)

	metrics.TransactionsTotal.WithLabelValues(string(types.StatusCommitted)).Inc()

	http.Handle("/metrics", metrics.Handler())

health.go additionally exposes a generic HealthChecker ("/health", "/ready",
"/live" handlers) whose readiness check treats the wal/ccm/storage/netsrv
components as critical. cmd/ledger does not register components with it or
mount its handlers.
*/
package metrics
