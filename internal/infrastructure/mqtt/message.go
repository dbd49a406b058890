package mqtt

import "sync"

// Message is a received MQTT message awaiting acknowledgement.
type Message struct {
	Topic     string
	Payload   []byte
	MessageID uint16
	Duplicate bool

	ack  func()
	once sync.Once
}

// NewMessage builds a Message whose Ack calls ack. Used to feed records
// into the pipeline from outside a broker subscription.
func NewMessage(topic string, payload []byte, ack func()) *Message {
	return &Message{Topic: topic, Payload: payload, ack: ack}
}

// Ack acknowledges the message to the broker. Only the first call has
// any effect.
func (m *Message) Ack() {
	m.once.Do(func() {
		if m.ack != nil {
			m.ack()
		}
	})
}
