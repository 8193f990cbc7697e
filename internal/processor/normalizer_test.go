package processor

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"mysql-livefeed/internal/models"
)

func record(id int64, op string, before, after *string) *models.ChangeRecord {
	entityID := int64(5)
	return &models.ChangeRecord{
		ID:         id,
		EntityID:   &entityID,
		Operation:  op,
		Before:     before,
		After:      after,
		OccurredAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNormalizeInsert(t *testing.T) {
	rec := record(1, models.OpInsert, nil, strptr(`{"id":5,"name":"Alice","status":"pending"}`))

	event, err := Normalize(rec)
	assert.Equal(t, err, nil)
	assert.Equal(t, event.Operation, "INSERT")
	assert.Equal(t, event.EntityID, int64(5))
	assert.Equal(t, event.SequenceID, int64(1))
	assert.Equal(t, event.Data["name"], "Alice")
	assert.Equal(t, event.Data["status"], "pending")

	msg := event.Message()
	assert.Equal(t, msg.Type, "INSERT")
	assert.Equal(t, msg.ChangeID, int64(1))
	assert.Equal(t, msg.Data, event.After)
	assert.Equal(t, msg.OldData, nil)
}

func TestNormalizeUpdate(t *testing.T) {
	rec := record(7, models.OpUpdate,
		strptr(`{"id":5,"status":"pending"}`),
		strptr(`{"id":5,"status":"completed"}`))

	event, err := Normalize(rec)
	assert.Equal(t, err, nil)
	assert.Equal(t, event.Before["status"], "pending")
	assert.Equal(t, event.After["status"], "completed")
	assert.Equal(t, event.Data["status"], "completed")

	msg := event.Message()
	assert.Equal(t, msg.Type, "UPDATE")
	assert.Equal(t, msg.OldData["status"], "pending")
	assert.Equal(t, msg.NewData["status"], "completed")
	assert.Equal(t, msg.Data, msg.NewData)
}

func TestNormalizeDelete(t *testing.T) {
	rec := record(9, models.OpDelete, strptr(`{"id":5,"name":"Alice"}`), nil)

	event, err := Normalize(rec)
	assert.Equal(t, err, nil)
	assert.Equal(t, event.Data["name"], "Alice")

	msg := event.Message()
	assert.Equal(t, msg.Type, "DELETE")
	assert.Equal(t, msg.Data, event.Before)
	assert.Equal(t, msg.OldData, nil)
	assert.Equal(t, msg.NewData, nil)
}

func TestNormalizeStringifiedObjectMarker(t *testing.T) {
	rec := record(2, models.OpInsert, nil, strptr("[object Object]"))

	event, err := Normalize(rec)
	assert.Equal(t, event, nil)
	assert.NotEqual(t, err, nil)
}

func TestNormalizeGarbagePayload(t *testing.T) {
	rec := record(3, models.OpInsert, nil, strptr("not json at all"))

	event, err := Normalize(rec)
	assert.Equal(t, event, nil)
	assert.NotEqual(t, err, nil)
}

func TestNormalizeUpdateMissingAfter(t *testing.T) {
	rec := record(4, models.OpUpdate, strptr(`{"id":5}`), nil)

	event, err := Normalize(rec)
	assert.Equal(t, event, nil)
	assert.NotEqual(t, err, nil)
}

func TestNormalizeUpdateUnusableBeforeStillDelivers(t *testing.T) {
	rec := record(5, models.OpUpdate, strptr("[object Object]"), strptr(`{"id":5,"status":"active"}`))

	event, err := Normalize(rec)
	assert.Equal(t, err, nil)
	assert.Equal(t, event.Before, nil)
	assert.Equal(t, event.Data["status"], "active")
}

func TestNormalizeDeleteMissingBefore(t *testing.T) {
	rec := record(6, models.OpDelete, nil, nil)

	event, err := Normalize(rec)
	assert.Equal(t, event, nil)
	assert.NotEqual(t, err, nil)
}

func TestNormalizeNullEntityID(t *testing.T) {
	rec := record(8, models.OpDelete, strptr(`{"id":5}`), nil)
	rec.EntityID = nil

	event, err := Normalize(rec)
	assert.Equal(t, event, nil)
	assert.NotEqual(t, err, nil)
}

func TestNormalizeUnknownOperation(t *testing.T) {
	rec := record(10, "TRUNCATE", nil, strptr(`{"id":5}`))

	event, err := Normalize(rec)
	assert.Equal(t, event, nil)
	assert.NotEqual(t, err, nil)
}
