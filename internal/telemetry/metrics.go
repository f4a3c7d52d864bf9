// Package telemetry exposes Prometheus metrics for the sync pipeline.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "menu_sync_runs_total",
		Help: "Sync runs by outcome (completed, skipped_locked, skipped_cooldown, failed)",
	}, []string{"outcome"})

	itemsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "menu_sync_items_fetched_total",
		Help: "Upstream items fetched across all runs",
	})

	snapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "menu_sync_snapshots_written_total",
		Help: "Snapshot rows written across all runs",
	})

	changesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "menu_sync_changes_written_total",
		Help: "Change rows written across all runs",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "menu_sync_run_duration_seconds",
		Help:    "Wall-clock duration of completed sync runs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// ObserveRun records one finished (or skipped) run.
func ObserveRun(outcome string, duration time.Duration, items, snapshots, changes int) {
	runsTotal.WithLabelValues(outcome).Inc()
	itemsFetched.Add(float64(items))
	snapshotsWritten.Add(float64(snapshots))
	changesWritten.Add(float64(changes))
	if outcome == "completed" {
		runDuration.Observe(duration.Seconds())
	}
}
