package processor

import (
	"encoding/json"
	"fmt"
	"strings"

	"mysql-livefeed/internal/models"
)

// stringifiedObjectMarker is what a buggy trigger writes when it stringifies
// a row object instead of serializing it. The payload is unrecoverable;
// treat it the same as an absent payload.
const stringifiedObjectMarker = "[object Object]"

// Normalize converts a raw change record into its canonical event. A non-nil
// error means the record yields no event: malformed payload, payload missing
// for the operation kind, or a null entity id. Callers apply the
// poison-record policy (log, mark delivered, continue); these records are
// never worth retrying.
func Normalize(rec *models.ChangeRecord) (*models.ChangeEvent, error) {
	if rec.EntityID == nil {
		return nil, fmt.Errorf("change %d has null entity id (%s)", rec.ID, rec.Operation)
	}

	before, beforeErr := parsePayload(rec.Before)
	after, afterErr := parsePayload(rec.After)

	event := &models.ChangeEvent{
		Operation:  rec.Operation,
		EntityID:   *rec.EntityID,
		Before:     before,
		After:      after,
		OccurredAt: rec.OccurredAt,
		SequenceID: rec.ID,
	}

	switch rec.Operation {
	case models.OpInsert:
		if after == nil {
			return nil, fmt.Errorf("change %d: INSERT without usable after payload: %v", rec.ID, afterErr)
		}
		event.Data = after
	case models.OpUpdate:
		if after == nil {
			return nil, fmt.Errorf("change %d: UPDATE without usable after payload: %v", rec.ID, afterErr)
		}
		// A lost before image degrades the event but the current state is
		// still deliverable.
		event.Data = after
	case models.OpDelete:
		if before == nil {
			return nil, fmt.Errorf("change %d: DELETE without usable before payload: %v", rec.ID, beforeErr)
		}
		event.Data = before
	default:
		return nil, fmt.Errorf("change %d has unknown operation %q", rec.ID, rec.Operation)
	}

	return event, nil
}

// parsePayload decodes a raw payload column. Absent payloads and the
// stringified-object marker come back as nil; anything that is not a JSON
// object is treated as absent with the parse failure as the reason.
func parsePayload(raw *string) (map[string]interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	text := strings.TrimSpace(*raw)
	if text == "" {
		return nil, nil
	}
	if text == stringifiedObjectMarker {
		return nil, fmt.Errorf("payload is a stringified object marker")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return payload, nil
}
