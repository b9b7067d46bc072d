// Package metrics exposes Prometheus collectors for the sync engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the engine collectors.
	Registry = prometheus.NewRegistry()

	surfaceMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mapsync",
			Subsystem: "surface",
			Name:      "mutations_total",
			Help:      "Total number of render surface mutations issued.",
		},
		[]string{"op"},
	)

	boundaryFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mapsync",
			Subsystem: "boundary",
			Name:      "fetch_total",
			Help:      "Total number of WFS boundary fetches by outcome.",
		},
		[]string{"outcome"},
	)

	boundaryFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mapsync",
			Subsystem: "boundary",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of WFS boundary fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	boundariesLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mapsync",
			Subsystem: "boundary",
			Name:      "loaded",
			Help:      "Number of boundaries currently materialized.",
		},
	)

	rasterReconciles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mapsync",
			Subsystem: "raster",
			Name:      "reconcile_total",
			Help:      "Total number of raster reconciliations.",
		},
	)

	styleSwaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mapsync",
			Subsystem: "style",
			Name:      "swaps_total",
			Help:      "Total number of basemap style swaps by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		surfaceMutations,
		boundaryFetches,
		boundaryFetchDuration,
		boundariesLoaded,
		rasterReconciles,
		styleSwaps,
	)
}

// Handler returns an HTTP handler serving the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordSurfaceMutation(op string) {
	surfaceMutations.WithLabelValues(op).Inc()
}

func RecordBoundaryFetch(outcome string, d time.Duration) {
	boundaryFetches.WithLabelValues(outcome).Inc()
	boundaryFetchDuration.Observe(d.Seconds())
}

func SetBoundariesLoaded(n int) {
	boundariesLoaded.Set(float64(n))
}

func RecordRasterReconcile() {
	rasterReconciles.Inc()
}

func RecordStyleSwap(result string) {
	styleSwaps.WithLabelValues(result).Inc()
}
