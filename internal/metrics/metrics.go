package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// BlocksProcessed counts ingestion cycle outcomes by status
	// (ok, skipped, error).
	BlocksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_blocks_processed_total", Help: "Ingestion cycles by outcome"},
		[]string{"status"},
	)
	// RowsDecoded counts decoded rows by kind.
	RowsDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_rows_decoded_total", Help: "Decoded rows by kind"},
		[]string{"kind"},
	)
	// Deliveries counts subscriber deliveries by channel (webhook, push) and
	// status (ok, error).
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_deliveries_total", Help: "Subscriber deliveries"},
		[]string{"channel", "status"},
	)
	// FetchDuration observes block fetch latency per cycle.
	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "relay_fetch_duration_seconds", Help: "Block fetch latency", Buckets: prometheus.DefBuckets},
	)
)

func init() {
	prometheus.MustRegister(BlocksProcessed, RowsDecoded, Deliveries, FetchDuration)
}
