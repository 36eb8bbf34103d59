package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for exchange clients. Values aggregate over every
// client in the process.
var (
	pagesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_pages_received_total",
		Help: "Total pages received from remote buffers",
	})

	bytesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_bytes_received_total",
		Help: "Total page bytes received from remote buffers",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_requests_total",
		Help: "Total fetches by outcome (pages, empty, complete, failure)",
	}, []string{"outcome"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_retries_total",
		Help: "Total number of fetch retries by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_retry_backoff_seconds",
		Help:    "Backoff before a fetch retry by error class",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_retry_exhausted_total",
		Help: "Total number of locations that exhausted their retry budget by error class",
	}, []string{"error_class"})

	bufferedBytesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_buffered_bytes",
		Help: "Bytes currently held in exchange output queues",
	})

	locationsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_locations_failed_total",
		Help: "Total number of locations that failed an exchange",
	})
)
