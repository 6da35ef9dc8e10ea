package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osint_dispatches_total",
			Help: "Target dispatches by final target status",
		},
		[]string{"status"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "osint_dispatch_duration_seconds",
			Help:    "Wall time of a full dispatch",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	ProviderResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osint_provider_results_total",
			Help: "Provider outcomes by source and result status",
		},
		[]string{"source", "status"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osint_provider_duration_seconds",
			Help:    "Duration of a single provider call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	ProviderPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osint_provider_panics_total",
			Help: "Provider calls recovered from a panic",
		},
		[]string{"source"},
	)

	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "osint_dispatches_in_flight",
			Help: "Dispatches currently running",
		},
	)

	TargetsImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osint_targets_imported_total",
			Help: "Targets read from import files by outcome",
		},
		[]string{"outcome"},
	)
)
