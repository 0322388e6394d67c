package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for rate limit tracking and the request queue.
var (
	serverRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nftfloor_ratelimit_remaining",
		Help: "Requests remaining in the current upstream rate limit window, as reported by the server",
	})

	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nftfloor_ratelimit_queue_length",
		Help: "Number of requests waiting in the rate limit queue",
	})

	queueRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftfloor_ratelimit_queue_rejections_total",
		Help: "Total number of requests rejected by the queue, by reason",
	}, []string{"reason"})

	queueWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nftfloor_ratelimit_queue_wait_seconds",
		Help:    "Time a request spent queued before the dispatch loop picked it up",
		Buckets: []float64{0.01, 0.1, 1, 10, 60, 300, 960},
	})

	admissionWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nftfloor_ratelimit_admission_wait_seconds",
		Help:    "Time spent waiting for the request window to admit a request",
		Buckets: []float64{0.1, 1, 10, 60, 300, 960},
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftfloor_upstream_requests_total",
		Help: "Total number of upstream requests dispatched through the gate, by outcome",
	}, []string{"outcome"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftfloor_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nftfloor_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftfloor_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)
