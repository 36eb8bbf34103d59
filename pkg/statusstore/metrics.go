package statusstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreWrites tracks snapshots written
	StoreWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exchange_status_store_writes_total",
			Help: "Total number of exchange status snapshots written",
		},
	)

	// StoreReads tracks snapshot lookups by result
	StoreReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_status_store_reads_total",
			Help: "Total number of exchange status snapshot reads",
		},
		[]string{"result"}, // "hit", "miss"
	)

	// SnapshotSize tracks the encoded size of the last written snapshot
	SnapshotSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "exchange_status_store_snapshot_bytes",
			Help: "Encoded size of the last exchange status snapshot written",
		},
	)

	// StoreErrors tracks store operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_status_store_errors_total",
			Help: "Total number of exchange status store errors",
		},
		[]string{"operation"}, // "get", "put", "delete", "list"
	)
)
