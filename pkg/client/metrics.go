package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for fetch orchestration.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftfloor_fetches_total",
		Help: "Total GetOrFetch calls by cache verdict",
	}, []string{"verdict"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nftfloor_fetch_duration_seconds",
		Help:    "GetOrFetch duration in seconds by cache verdict",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
	}, []string{"verdict"})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftfloor_fetch_errors_total",
		Help: "Total failed cache fills by error class",
	}, []string{"class"})

	backgroundRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftfloor_background_refreshes_total",
		Help: "Total background refreshes of stale entries by outcome",
	}, []string{"outcome"})

	sharedFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nftfloor_dedup_shared_total",
		Help: "Total fetch results delivered to more than one caller",
	})

	inflightFetches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nftfloor_inflight_fetches",
		Help: "Number of keys with an upstream fetch in progress",
	})
)
