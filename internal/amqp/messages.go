package amqp

import (
	"encoding/json"
	"time"

	"outlay/internal/notify"
)

// RecordChangeMessage is the wire form of one dataset change. It carries
// only identity, not record content: subscribers react by refetching their
// whole filtered window, so content here would go unused.
type RecordChangeMessage struct {
	Op        string    `json:"op"` // insert, update or delete
	RecordID  string    `json:"record_id"`
	Owner     string    `json:"owner"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRecordChangeMessage creates a change message stamped with the current
// time.
func NewRecordChangeMessage(op notify.Op, recordID, owner string) *RecordChangeMessage {
	return &RecordChangeMessage{
		Op:        string(op),
		RecordID:  recordID,
		Owner:     owner,
		Timestamp: time.Now(),
	}
}

// Event converts the message into a hub event.
func (m *RecordChangeMessage) Event() notify.Event {
	return notify.Event{
		Op:       notify.Op(m.Op),
		RecordID: m.RecordID,
		Owner:    m.Owner,
		At:       m.Timestamp,
	}
}

// ToJSON converts the message to JSON bytes.
func (m *RecordChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RecordChangeMessageFromJSON creates a message from JSON bytes.
func RecordChangeMessageFromJSON(data []byte) (*RecordChangeMessage, error) {
	var msg RecordChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
