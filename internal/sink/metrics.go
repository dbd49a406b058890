package sink

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Record and request metrics.
var (
	recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsdbsink_records_total",
		Help: "Records by terminal outcome (ack, emit, fail)",
	}, []string{"outcome"})

	recordDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tsdbsink_record_duration_seconds",
		Help:    "Time from dispatch to terminal outcome, by mode",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"mode"})

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsdbsink_requests_total",
		Help: "Write requests by result (ok, mapping, overload, timeout, transport)",
	}, []string{"result"})

	requestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsdbsink_requests_in_flight",
		Help: "Write requests issued to the backend and not yet resolved",
	})
)

// Backpressure metrics.
var (
	overloadRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tsdbsink_overload_retries_total",
		Help: "Write requests re-issued after an overload signal",
	})

	throttleCyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tsdbsink_throttle_cycles_total",
		Help: "Records processed in throttled mode",
	})

	throttleActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsdbsink_throttle_active",
		Help: "1 while the next record is due to run throttled",
	})
)

func init() {
	prometheus.MustRegister(recordsTotal)
	prometheus.MustRegister(recordDuration)
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestsInFlight)
	prometheus.MustRegister(overloadRetriesTotal)
	prometheus.MustRegister(throttleCyclesTotal)
	prometheus.MustRegister(throttleActive)
}
