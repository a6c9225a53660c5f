package amqp

import (
	"encoding/json"
	"time"
)

// InvoiceClosedMessage announces an invoice's OPEN -> CLOSED transition.
// Consumers (notification delivery, exports) fetch the full invoice from
// the database; the message carries only identity.
type InvoiceClosedMessage struct {
	InvoiceID int64     `json:"invoice_id"`
	CardID    int64     `json:"card_id"`
	Period    string    `json:"period"`
	ClosedAt  time.Time `json:"closed_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ImportCompletedMessage reports one reconciled statement batch.
type ImportCompletedMessage struct {
	BatchID   string    `json:"batch_id"`
	Created   int       `json:"created"`
	Matched   int       `json:"matched"`
	Failed    int       `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes.
func (m *InvoiceClosedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ToJSON converts the message to JSON bytes.
func (m *ImportCompletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InvoiceClosedMessageFromJSON creates a message from JSON bytes.
func InvoiceClosedMessageFromJSON(data []byte) (*InvoiceClosedMessage, error) {
	var msg InvoiceClosedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ImportCompletedMessageFromJSON creates a message from JSON bytes.
func ImportCompletedMessageFromJSON(data []byte) (*ImportCompletedMessage, error) {
	var msg ImportCompletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
