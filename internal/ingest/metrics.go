package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsdbsink_ingest_messages_total",
		Help: "Source messages by result (queued, invalid, redelivered, dropped)",
	}, []string{"result"})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsdbsink_ingest_queue_depth",
		Help: "Records waiting for the sink",
	})

	outboxDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsdbsink_ingest_outbox_depth",
		Help: "Emitted results waiting to be published",
	})
)

func init() {
	prometheus.MustRegister(messagesTotal)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(outboxDepth)
}
