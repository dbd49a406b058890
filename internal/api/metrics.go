package api

import "github.com/prometheus/client_golang/prometheus"

var wsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "tsdbsink_ws_events_dropped_total",
	Help: "Sink events not delivered to a WebSocket client because its buffer was full.",
})

func init() {
	prometheus.MustRegister(wsDroppedTotal)
}
