package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of sync runs by terminal status",
		},
		[]string{"status"},
	)

	RowsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_rows_loaded_total",
			Help: "Total number of rows loaded into the sink per entity",
		},
		[]string{"entity"},
	)

	ResolutionGaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_resolution_gaps_total",
			Help: "Total number of foreign keys persisted as null because the reference did not resolve",
		},
		[]string{"entity"},
	)

	SchoolsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_schools_in_flight",
			Help: "Number of tenant jobs currently running",
		},
	)

	UpstreamRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_upstream_retries_total",
			Help: "Total number of retried upstream requests per source",
		},
		[]string{"source"},
	)
)

// Init registers metrics with Prometheus
func Init() {
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RowsLoaded)
	prometheus.MustRegister(ResolutionGaps)
	prometheus.MustRegister(SchoolsInFlight)
	prometheus.MustRegister(UpstreamRetries)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
