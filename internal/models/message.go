package models

import "time"

// Message type values sent to subscribers.
const (
	TypeInitialData = "INITIAL_DATA"
)

// Message is the JSON object written to a subscriber connection, one per
// change event plus the INITIAL_DATA snapshot on join.
type Message struct {
	Type      string                 `json:"type"`
	Data      interface{}            `json:"data,omitempty"`
	OldData   map[string]interface{} `json:"oldData,omitempty"`
	NewData   map[string]interface{} `json:"newData,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	ChangeID  int64                  `json:"changeId,omitempty"`
}

// Message converts the canonical event into its wire shape. UPDATE carries
// oldData/newData with data aliased to newData for consumers that only care
// about current state; DELETE carries the pre-image in data.
func (e *ChangeEvent) Message() *Message {
	msg := &Message{
		Type:      e.Operation,
		Data:      e.Data,
		Timestamp: e.OccurredAt,
		ChangeID:  e.SequenceID,
	}
	if e.Operation == OpUpdate {
		msg.OldData = e.Before
		msg.NewData = e.After
	}
	return msg
}

// InitialData builds the snapshot message sent to a newly joined subscriber.
func InitialData(entities []map[string]interface{}) *Message {
	return &Message{
		Type:      TypeInitialData,
		Data:      entities,
		Timestamp: time.Now(),
	}
}
