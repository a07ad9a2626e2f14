// Package metrics exposes Prometheus instrumentation for import runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImportRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_import_runs_total",
			Help: "Total number of import runs by trigger and result",
		},
		[]string{"trigger", "result"}, // result: success, fetch_failed, parse_failed, write_failed, busy, error
	)

	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_import_duration_seconds",
			Help:    "Duration of complete import runs in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)

	FeedFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_feed_fetch_duration_seconds",
			Help:    "Duration of individual feed downloads in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"feed"},
	)

	CandidateVenues = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_candidate_venues",
			Help: "Venues that met the selection criteria in the last import",
		},
	)

	CatalogVenues = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_venues",
			Help: "Venues written by the last successful import",
		},
	)

	CatalogEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_events",
			Help: "Events written by the last successful import",
		},
	)

	LastImportTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_last_import_timestamp_seconds",
			Help: "Unix time of the last successful import",
		},
	)
)

// RecordImport records the outcome of one import run. Runs rejected before
// starting pass a zero duration and are only counted.
func RecordImport(trigger, result string, duration time.Duration) {
	ImportRuns.WithLabelValues(trigger, result).Inc()
	if duration > 0 {
		ImportDuration.Observe(duration.Seconds())
	}
}

// RecordCatalog records the size of the catalog written by a successful import.
func RecordCatalog(candidates, venues, events int, at time.Time) {
	CandidateVenues.Set(float64(candidates))
	CatalogVenues.Set(float64(venues))
	CatalogEvents.Set(float64(events))
	LastImportTimestamp.Set(float64(at.Unix()))
}

// ObserveFeedFetch records how long a single feed download took.
func ObserveFeedFetch(feed string, duration time.Duration) {
	FeedFetchDuration.WithLabelValues(feed).Observe(duration.Seconds())
}
