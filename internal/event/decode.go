package event

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/archtrace/raceway/internal/clock"
)

// maxDurationNs is 2^63-1, the bound spec §4.1 places on duration_ns so
// that it remains representable as a signed 64-bit integer downstream
// (the relational backend's bigint columns).
const maxDurationNs = uint64(math.MaxInt64)

// wireEvent mirrors the JSON shape documented in spec §6. Kind is kept
// as a single-key raw map so that Decode can dispatch on the variant
// name before unmarshaling the typed payload.
type wireEvent struct {
	ID              string                     `json:"id"`
	TraceID         string                     `json:"trace_id"`
	ParentID        *string                    `json:"parent_id"`
	Timestamp       string                     `json:"timestamp"`
	Kind            map[string]json.RawMessage `json:"kind"`
	Metadata        wireMetadata               `json:"metadata"`
	CausalityVector clock.Vector               `json:"causality_vector"`
	LockSet         []string                   `json:"lock_set"`
}

type wireMetadata struct {
	ThreadID          string            `json:"thread_id"`
	ProcessID         uint32            `json:"process_id"`
	ServiceName       string            `json:"service_name"`
	InstanceID        string            `json:"instance_id"`
	Environment       string            `json:"environment"`
	Tags              map[string]string `json:"tags"`
	DurationNs        *uint64           `json:"duration_ns"`
	DistributedSpanID *string           `json:"distributed_span_id"`
	UpstreamSpanID    *string           `json:"upstream_span_id"`
}

// Decode parses one wire-format event, validating structure per spec
// §4.1 and §4.6 step 1: unknown kind variants and malformed UUIDs are
// rejected with a descriptive error so the caller can fail the whole
// ingest batch.
func Decode(raw json.RawMessage) (*Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("event: malformed JSON: %w", err)
	}

	id, err := uuid.Parse(w.ID)
	if err != nil {
		return nil, fmt.Errorf("event: invalid id %q: %w", w.ID, err)
	}
	traceID, err := uuid.Parse(w.TraceID)
	if err != nil {
		return nil, fmt.Errorf("event: invalid trace_id %q: %w", w.TraceID, err)
	}

	var parentID *uuid.UUID
	if w.ParentID != nil && *w.ParentID != "" {
		p, err := uuid.Parse(*w.ParentID)
		if err != nil {
			return nil, fmt.Errorf("event: invalid parent_id %q: %w", *w.ParentID, err)
		}
		parentID = &p
	}

	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("event: invalid timestamp %q: %w", w.Timestamp, err)
	}

	kind, err := decodeKind(w.Kind)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", w.ID, err)
	}

	meta, err := decodeMetadata(w.Metadata)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", w.ID, err)
	}

	return &Event{
		ID:              id,
		TraceID:         traceID,
		ParentID:        parentID,
		Timestamp:       ts,
		Kind:            kind,
		Metadata:        meta,
		CausalityVector: w.CausalityVector,
		LockSet:         w.LockSet,
	}, nil
}

func decodeMetadata(w wireMetadata) (Metadata, error) {
	if w.DurationNs != nil && *w.DurationNs > maxDurationNs {
		return Metadata{}, fmt.Errorf("metadata: duration_ns %d exceeds maximum %d", *w.DurationNs, maxDurationNs)
	}

	m := Metadata{
		ThreadID:    w.ThreadID,
		ProcessID:   w.ProcessID,
		ServiceName: w.ServiceName,
		InstanceID:  w.InstanceID,
		Environment: w.Environment,
		Tags:        w.Tags,
		DurationNs:  w.DurationNs,
	}

	if w.DistributedSpanID != nil && *w.DistributedSpanID != "" {
		id, err := uuid.Parse(*w.DistributedSpanID)
		if err != nil {
			return Metadata{}, fmt.Errorf("metadata: invalid distributed_span_id: %w", err)
		}
		m.DistributedSpanID = &id
	}
	if w.UpstreamSpanID != nil && *w.UpstreamSpanID != "" {
		id, err := uuid.Parse(*w.UpstreamSpanID)
		if err != nil {
			return Metadata{}, fmt.Errorf("metadata: invalid upstream_span_id: %w", err)
		}
		m.UpstreamSpanID = &id
	}
	return m, nil
}

// decodeKind dispatches on the single key of the wire "kind" object.
// Exactly one key is expected; zero or multiple keys, or an unrecognized
// variant name, is a hard validation failure per spec §9 ("unknown
// variants must be a hard reject rather than silent pass-through").
func decodeKind(raw map[string]json.RawMessage) (Kind, error) {
	if len(raw) != 1 {
		return nil, fmt.Errorf("kind: expected exactly one variant key, got %d", len(raw))
	}
	var variant string
	var payload json.RawMessage
	for k, v := range raw {
		variant, payload = k, v
	}

	switch variant {
	case "FunctionCall":
		var v FunctionCall
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("kind FunctionCall: %w", err)
		}
		return v, nil
	case "StateChange":
		var v StateChange
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("kind StateChange: %w", err)
		}
		if err := validateAccessType(v.AccessType); err != nil {
			return nil, err
		}
		return v, nil
	case "HttpRequest":
		var v HttpRequest
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("kind HttpRequest: %w", err)
		}
		return v, nil
	case "HttpResponse":
		var v HttpResponse
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("kind HttpResponse: %w", err)
		}
		return v, nil
	case "LockAcquire":
		var v LockAcquire
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("kind LockAcquire: %w", err)
		}
		return v, nil
	case "LockRelease":
		var v LockRelease
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("kind LockRelease: %w", err)
		}
		return v, nil
	case "AsyncSpawn":
		var v AsyncSpawn
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("kind AsyncSpawn: %w", err)
		}
		return v, nil
	case "AsyncAwait":
		var v AsyncAwait
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("kind AsyncAwait: %w", err)
		}
		return v, nil
	case "Error":
		var v Error
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("kind Error: %w", err)
		}
		return v, nil
	case "Custom":
		var v Custom
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("kind Custom: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("kind: unknown variant %q", variant)
	}
}

func validateAccessType(a AccessType) error {
	switch a {
	case AccessRead, AccessWrite, AccessAtomicRead, AccessAtomicWrite, AccessAtomicRMW:
		return nil
	default:
		return fmt.Errorf("kind StateChange: unknown access_type %q", a)
	}
}

// Encode serializes e back to the wire JSON shape, for API responses
// that echo events verbatim (trace detail, audit trail, tree views).
func Encode(e *Event) (json.RawMessage, error) {
	w := wireEvent{
		ID:              e.ID.String(),
		TraceID:         e.TraceID.String(),
		Timestamp:       e.Timestamp.Format(time.RFC3339Nano),
		CausalityVector: e.CausalityVector,
		LockSet:         e.LockSet,
	}
	if e.ParentID != nil {
		s := e.ParentID.String()
		w.ParentID = &s
	}
	w.Metadata = wireMetadata{
		ThreadID:    e.Metadata.ThreadID,
		ProcessID:   e.Metadata.ProcessID,
		ServiceName: e.Metadata.ServiceName,
		InstanceID:  e.Metadata.InstanceID,
		Environment: e.Metadata.Environment,
		Tags:        e.Metadata.Tags,
		DurationNs:  e.Metadata.DurationNs,
	}
	if e.Metadata.DistributedSpanID != nil {
		s := e.Metadata.DistributedSpanID.String()
		w.Metadata.DistributedSpanID = &s
	}
	if e.Metadata.UpstreamSpanID != nil {
		s := e.Metadata.UpstreamSpanID.String()
		w.Metadata.UpstreamSpanID = &s
	}

	kindPayload, err := json.Marshal(e.Kind)
	if err != nil {
		return nil, fmt.Errorf("event %s: marshal kind: %w", e.ID, err)
	}
	kindWrapped := map[string]json.RawMessage{e.Kind.Variant(): kindPayload}

	// wireEvent.Kind is typed as map[string]json.RawMessage for decode;
	// filling it with the single-key variant wrapper and marshaling the
	// same struct keeps the encode and decode paths symmetric.
	w.Kind = kindWrapped
	out, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("event %s: marshal: %w", e.ID, err)
	}
	return out, nil
}
