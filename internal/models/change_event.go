package models

import "time"

// Operation kinds recorded by the capture triggers.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// ChangeRecord is one row of the change log table. The pipeline only ever
// reads these; the capture triggers own every field except Delivered.
type ChangeRecord struct {
	ID         int64
	EntityID   *int64
	Operation  string
	Before     *string // raw payload text, JSON object or garbage
	After      *string
	OccurredAt time.Time
	Delivered  bool
}

// ChangeEvent is the canonical form of a single change, ready for transport.
// Built from exactly one ChangeRecord by the normalizer.
type ChangeEvent struct {
	Operation  string
	EntityID   int64
	Before     map[string]interface{}
	After      map[string]interface{}
	Data       map[string]interface{} // current state: After, or Before for DELETE
	OccurredAt time.Time
	SequenceID int64
}
