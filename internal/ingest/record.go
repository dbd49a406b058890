package ingest

import (
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/mapper"
)

// Record is a decoded MQTT message travelling through the sink.
type Record struct {
	*mapper.MapRecord

	msg      *mqtt.Message
	attempts int
}

// Attempts returns how many times the record has been executed.
func (r *Record) Attempts() int { return r.attempts }

// Message returns the broker message the record was decoded from.
func (r *Record) Message() *mqtt.Message { return r.msg }
