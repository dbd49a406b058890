package ingest

import (
	"encoding/json"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/backend"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/mapper"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/sink"
)

// Compile-time check that Runner satisfies the sink's collector contract.
var _ sink.Collector = (*Runner)(nil)

// emission is an encoded result waiting to be published.
type emission struct {
	rec     mapper.Record
	payload []byte
}

// Emitted is the payload published for a record whose results are emitted.
type Emitted struct {
	RecordID string          `json:"record_id"`
	Topic    string          `json:"topic,omitempty"`
	Points   []backend.Point `json:"points"`
}

// Ack acknowledges the record's broker message.
func (r *Runner) Ack(rec mapper.Record) {
	r.settle(rec)
}

// Emit hands the results to the publish loop, which publishes them to the
// output topic and then acknowledges the record. A failed publish is logged;
// the record is still acknowledged. Emit only blocks when the outbox is full.
func (r *Runner) Emit(rec mapper.Record, results []backend.Point) {
	if r.pub == nil {
		r.logger.Warn("no publisher for emitted results", "record", rec.ID())
		r.settle(rec)
		return
	}

	out := Emitted{RecordID: rec.ID(), Points: results}
	if src, ok := rec.(mapper.Source); ok {
		out.Topic = src.Topic()
	}
	payload, err := json.Marshal(out)
	if err != nil {
		r.logger.Error("encoding emitted results", "record", rec.ID(), "error", err)
		r.settle(rec)
		return
	}

	r.outboxMu.RLock()
	defer r.outboxMu.RUnlock()
	if r.outboxClosed {
		r.logger.Warn("runner closed, emitted results not published", "record", rec.ID())
		r.settle(rec)
		return
	}
	r.outbox <- emission{rec: rec, payload: payload}
	outboxDepth.Set(float64(len(r.outbox)))
}

// publishLoop publishes queued emissions until Close.
func (r *Runner) publishLoop() {
	defer r.publishing.Done()
	topic := r.outputTopic()
	for e := range r.outbox {
		outboxDepth.Set(float64(len(r.outbox)))
		if err := r.pub.PublishDefault(topic, e.payload); err != nil {
			r.logger.Error("publishing emitted results", "record", e.rec.ID(), "error", err)
		}
		r.settle(e.rec)
	}
}

// Fail queues the record again when err requests redelivery and attempts
// remain. Otherwise the message is acknowledged and the record dropped.
func (r *Runner) Fail(rec mapper.Record, err error) {
	ir, ok := rec.(*Record)
	if ok && sink.IsRetryable(err) {
		if ir.attempts <= r.maxRedeliveries && r.requeue(ir) {
			return
		}
		r.logger.Warn("redelivery not possible, dropping record",
			"record", rec.ID(), "attempts", ir.attempts, "max_redeliveries", r.maxRedeliveries)
	}

	r.dropped.Add(1)
	messagesTotal.WithLabelValues("dropped").Inc()
	r.settle(rec)
}

// requeue puts rec back on the queue without blocking. Fail may run on
// the goroutine that drains the queue.
func (r *Runner) requeue(rec *Record) bool {
	rec.attempts++
	select {
	case r.queue <- rec:
		r.redelivered.Add(1)
		messagesTotal.WithLabelValues("redelivered").Inc()
		return true
	default:
		rec.attempts--
		return false
	}
}

func (r *Runner) settle(rec mapper.Record) {
	if ir, ok := rec.(*Record); ok && ir.msg != nil {
		ir.msg.Ack()
	}
}

func (r *Runner) outputTopic() string {
	if r.cfg.OutputTopic != "" {
		return r.cfg.OutputTopic
	}
	return mqtt.Topics{}.Results()
}
