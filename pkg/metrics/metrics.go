// Package metrics exposes the Prometheus registry used by the exchange
// packages. Metrics are defined next to the code that updates them (exchange,
// buffer, statusstore) and registered via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package registers with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the matching gatherer.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Exchange Metrics (pkg/exchange):
//   - exchange_pages_received_total (Counter): Pages received from remote buffers
//   - exchange_bytes_received_total (Counter): Page bytes received
//   - exchange_requests_total{outcome} (Counter): Fetches by outcome (pages, empty, complete, failure)
//   - exchange_retries_total{error_class} (Counter): Fetch retries by error class
//   - exchange_retry_backoff_seconds{error_class} (Histogram): Backoff before a retry
//   - exchange_retry_exhausted_total{error_class} (Counter): Locations that ran out of attempts
//   - exchange_buffered_bytes (Gauge): Bytes held in output queues
//   - exchange_locations_failed_total (Counter): Locations that failed an exchange
//
// Remote Buffer Metrics (pkg/buffer):
//   - exchange_buffer_requests_total{method, status} (Counter): Requests by method and HTTP status
//   - exchange_buffer_request_duration_seconds{method} (Histogram): Request duration
//   - exchange_buffer_errors_total{class} (Counter): Errors by class
//
// Status Store Metrics (pkg/statusstore):
//   - exchange_status_store_writes_total (Counter): Snapshots written
//   - exchange_status_store_reads_total{result} (Counter): Snapshot reads by hit/miss
//   - exchange_status_store_snapshot_bytes (Gauge): Size of the last snapshot
//   - exchange_status_store_errors_total{operation} (Counter): Store errors
//
// Example Prometheus Queries:
//
//   # Exchange throughput
//   rate(exchange_bytes_received_total[5m])
//
//   # Retry rate by class
//   sum by (error_class) (rate(exchange_retries_total[5m]))
//
//   # Memory held by exchanges
//   exchange_buffered_bytes
//
//   # P95 fetch latency
//   histogram_quantile(0.95, rate(exchange_buffer_request_duration_seconds_bucket{method="GET"}[5m]))
