package sink

import "time"

// Event types delivered to the observer.
const (
	EventRecordCompleted = "record.completed"
	EventThrottled       = "sink.throttled"
)

// Event describes something the sink did. It is delivered to the observer
// set with SetObserver, typically to stream it to API clients.
type Event struct {
	Type     string    `json:"type"`
	RecordID string    `json:"record_id"`
	Mode     string    `json:"mode"`
	Outcome  string    `json:"outcome,omitempty"`
	Requests int       `json:"requests"`
	Kind     string    `json:"kind,omitempty"`
	Error    string    `json:"error,omitempty"`
	Duration float64   `json:"duration_ms"`
	Time     time.Time `json:"time"`
}

// Observer receives sink events. It is called synchronously and must not block.
type Observer func(Event)

// Stats is a snapshot of the sink counters.
type Stats struct {
	Mode           string `json:"mode"`
	FailStrategy   string `json:"fail_strategy"`
	Throttled      bool   `json:"throttled"`
	Records        int64  `json:"records"`
	Acked          int64  `json:"acked"`
	Emitted        int64  `json:"emitted"`
	Failed         int64  `json:"failed"`
	Requests       int64  `json:"requests"`
	RequestErrors  int64  `json:"request_errors"`
	InFlight       int64  `json:"in_flight"`
	OverloadSignal int64  `json:"overload_signals"`
	ThrottleCycles int64  `json:"throttle_cycles"`
	Stopped        bool   `json:"stopped"`
}
