package event

import (
	"encoding/json"
	"fmt"
)

// wireBatch is the `POST /events` request body from spec §6.
type wireBatch struct {
	Events []json.RawMessage `json:"events"`
}

// DecodeBatch parses a `{"events": [...]}` payload into typed events, in
// wire order. Per spec §4.6 step 1, a single malformed event fails the
// whole batch — callers must not partially ingest.
func DecodeBatch(raw []byte) ([]*Event, error) {
	var wb wireBatch
	if err := json.Unmarshal(raw, &wb); err != nil {
		return nil, fmt.Errorf("batch: malformed JSON: %w", err)
	}
	if len(wb.Events) == 0 {
		return nil, fmt.Errorf("batch: events array is empty")
	}

	out := make([]*Event, 0, len(wb.Events))
	for i, raw := range wb.Events {
		e, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("batch: event[%d]: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}
