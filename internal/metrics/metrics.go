// Package metrics exposes Prometheus instrumentation for the cash
// operations platform: counters, gauges, and histograms registered once
// at package init via promauto and scraped through Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashops_ingestion_runs_total",
		Help: "Total connector ingestion runs, by connection and status",
	}, []string{"connection_id", "status"})

	IngestionRowsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashops_ingestion_rows_committed_total",
		Help: "Total canonical rows committed by a connector sync run",
	}, []string{"connection_id"})

	ReconciliationAllocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashops_reconciliation_allocations_total",
		Help: "Total allocations created by the matching engine, by tier",
	}, []string{"tier"})

	InvariantRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cashops_invariant_run_duration_seconds",
		Help:    "Wall-clock time of a full seven-check invariant run",
		Buckets: prometheus.DefBuckets,
	})

	InvariantCriticalFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cashops_invariant_critical_failures",
		Help: "Open critical invariant failures on the most recent run, by snapshot",
	}, []string{"snapshot_id"})

	TrustScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cashops_trust_score",
		Help: "Most recently computed composite trust score, by snapshot",
	}, []string{"snapshot_id"})

	LockGateOverridesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cashops_lock_gate_overrides_total",
		Help: "Total CFO lock-gate overrides recorded",
	})

	ForecastSegmentsCalibrated = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cashops_forecast_segments_calibrated",
		Help: "Segments with a live split-conformal calibration record, by snapshot",
	}, []string{"snapshot_id"})
)

// Handler returns the /metrics HTTP handler for a sidecar scrape
// server; cmd/cashopsd has no HTTP listener of its own, so operators
// wire this into whatever process embeds the engines for long-running
// deployment.
func Handler() http.Handler {
	return promhttp.Handler()
}
