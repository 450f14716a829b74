package messagepipeline

import (
	"time"
)

// Message is the transport-independent form of one received payload.
type Message struct {
	MessageData

	// Attributes carries broker metadata such as Pub/Sub attributes or the
	// MQTT topic a message arrived on.
	Attributes map[string]string

	// Ack and Nack settle the message with its source. Either may be nil for
	// transports without acknowledgement.
	Ack  func()
	Nack func()
}

// MessageData is the payload and identity of a message.
type MessageData struct {
	ID          string    `json:"id"`
	Payload     []byte    `json:"payload"`
	PublishTime time.Time `json:"publishTime"`
}

func (m *Message) ack() {
	if m.Ack != nil {
		m.Ack()
	}
}

func (m *Message) nack() {
	if m.Nack != nil {
		m.Nack()
	}
}
