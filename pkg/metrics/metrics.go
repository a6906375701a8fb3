package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Chunk metrics
	ChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvmigrate_chunks_total",
			Help: "Total number of chunks processed by database and status",
		},
		[]string{"db", "status"},
	)

	ChunkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvmigrate_chunk_duration_seconds",
			Help:    "Time taken to transfer one chunk and execute its batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"db"},
	)

	// Key metrics
	KeysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvmigrate_keys_total",
			Help: "Total number of keys by database and outcome (migrated, skipped, failed)",
		},
		[]string{"db", "outcome"},
	)

	// Scan metrics
	ScanBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvmigrate_scan_batches_total",
			Help: "Total number of scan steps by database",
		},
		[]string{"db"},
	)

	ScanErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvmigrate_scan_errors_total",
			Help: "Total number of scan steps that failed",
		},
		[]string{"db"},
	)

	// Database metrics
	DatabasesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvmigrate_databases_active",
			Help: "Number of database migrators that have not reached done",
		},
	)

	DatabaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvmigrate_database_duration_seconds",
			Help:    "Wall time of one database migration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"db", "status"},
	)

	ChunksInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kvmigrate_chunks_in_flight",
			Help: "Chunks submitted to the worker pool and not yet finished",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(ChunksTotal)
	prometheus.MustRegister(ChunkDuration)
	prometheus.MustRegister(KeysTotal)
	prometheus.MustRegister(ScanBatchesTotal)
	prometheus.MustRegister(ScanErrorsTotal)
	prometheus.MustRegister(DatabasesActive)
	prometheus.MustRegister(DatabaseDuration)
	prometheus.MustRegister(ChunksInFlight)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServeMux wires the metrics and health endpoints onto one mux
func NewServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/ready", ReadyHandler())
	mux.HandleFunc("/live", LivenessHandler())
	return mux
}
