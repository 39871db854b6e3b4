package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shard call outcomes.
const (
	OutcomeOK              = "ok"
	OutcomeMissingRelation = "missing_relation"
	OutcomeError           = "error"
)

var (
	// ShardQueries counts shard calls by shard and outcome.
	ShardQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catopus_shard_queries_total",
			Help: "Total number of queries dispatched to shard databases",
		},
		[]string{"shard", "outcome"},
	)
	// ShardQueryDuration is the latency of one shard call, including materialisation.
	ShardQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catopus_shard_query_duration_seconds",
			Help:    "Shard query latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"shard"},
	)
	// FanoutRuns counts fan-out invocations by result: rows, empty or error.
	FanoutRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catopus_fanout_runs_total",
			Help: "Total number of fan-out invocations",
		},
		[]string{"result"},
	)
	// PersistedRows counts rows written to the warehouse.
	PersistedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catopus_persisted_rows_total",
			Help: "Total number of rows bulk-inserted into the warehouse",
		},
	)
	// RemoteJobs counts remote jobs by terminal status.
	RemoteJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catopus_remote_jobs_total",
			Help: "Total number of remote jobs by terminal status",
		},
		[]string{"status"},
	)
	// RequestTotal counts HTTP requests by method, route and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catopus_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
