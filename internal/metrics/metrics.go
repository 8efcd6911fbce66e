// Package metrics registers the prometheus instruments shared across
// patchvec components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts business operations by op and status.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchvec_requests_total",
		Help: "Total business operations by op and status.",
	}, []string{"op", "status"})

	// OpLatency observes per-operation latency in seconds.
	OpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "patchvec_op_latency_seconds",
		Help:    "Business operation latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// AdmissionRejections counts fail-fast admission rejections by kind.
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchvec_admission_rejections_total",
		Help: "Operations rejected by the admission controller.",
	}, []string{"kind"})

	// OplogDropped counts operational log lines dropped under backpressure.
	OplogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "patchvec_oplog_dropped_total",
		Help: "Operational log events dropped under backpressure.",
	})

	// SearchHits observes the number of hits returned per search.
	SearchHits = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchvec_search_hits",
		Help:    "Hits returned per search.",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})
)
