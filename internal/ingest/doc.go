// Package ingest feeds MQTT messages into the sink.
//
// A Runner subscribes to the configured source topics, decodes each payload
// into a record and hands records to the sink one at a time from a single
// goroutine. It is also the sink's Collector: the broker message behind a
// record is acknowledged only when the sink settles the record, and records
// failed with a redelivery request are queued again up to a configured
// number of attempts. Emitted results go through an outbox drained by a
// publish loop, and the record is acknowledged once its results are published.
//
// The handler blocks while the queue is full, which holds back paho's
// delivery goroutine and with it the broker.
package ingest
