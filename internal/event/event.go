// Package event defines the typed event record described in spec §3
// and its (de)serialization to and from the wire JSON format of spec §6.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/archtrace/raceway/internal/clock"
)

// Metadata carries the ambient fields attached to every event, described
// in spec §3.
type Metadata struct {
	ThreadID           string            `json:"thread_id"`
	ProcessID          uint32            `json:"process_id"`
	ServiceName        string            `json:"service_name"`
	InstanceID         string            `json:"instance_id"`
	Environment        string            `json:"environment,omitempty"`
	Tags               map[string]string `json:"tags,omitempty"`
	DurationNs         *uint64           `json:"duration_ns,omitempty"`
	DistributedSpanID  *uuid.UUID        `json:"distributed_span_id,omitempty"`
	UpstreamSpanID     *uuid.UUID        `json:"upstream_span_id,omitempty"`
}

// ComponentKey returns the "<service>#<instance>" key used to index this
// event's emitting component in a vector clock.
func (m Metadata) ComponentKey() string {
	return m.ServiceName + "#" + m.InstanceID
}

// Event is the fully typed, in-memory representation of one captured
// event. It is immutable once constructed, per invariant I-E4.
type Event struct {
	ID               uuid.UUID
	TraceID          uuid.UUID
	ParentID         *uuid.UUID
	Timestamp        time.Time
	Kind             Kind
	Metadata         Metadata
	CausalityVector  clock.Vector
	LockSet          []string
}

// HasDuration reports whether the event carries a duration_ns sample,
// used by baseline tracking and anomaly detection.
func (e *Event) HasDuration() bool {
	return e.Metadata.DurationNs != nil
}

// DurationNs returns the event's duration in nanoseconds, or 0 if absent.
func (e *Event) DurationNs() uint64 {
	if e.Metadata.DurationNs == nil {
		return 0
	}
	return *e.Metadata.DurationNs
}

// OperationKey returns the baseline tracking key for this event: the
// function name for FunctionCall events, or the Custom event's name.
// Other kinds have no baseline key.
func (e *Event) OperationKey() (string, bool) {
	switch k := e.Kind.(type) {
	case FunctionCall:
		return k.Name, true
	case Custom:
		return k.Name, true
	default:
		return "", false
	}
}

// StateChange returns the event's StateChange payload and true if the
// event is a StateChange, else the zero value and false.
func (e *Event) StateChange() (StateChange, bool) {
	sc, ok := e.Kind.(StateChange)
	return sc, ok
}

// LockSetIntersects reports whether e's historical lock_set shares any
// lock_id with other's, used by race-detection's lock-safety check
// (spec §4.5 step 4 / P4).
func (e *Event) LockSetIntersects(other *Event) bool {
	if len(e.LockSet) == 0 || len(other.LockSet) == 0 {
		return false
	}
	held := make(map[string]struct{}, len(e.LockSet))
	for _, l := range e.LockSet {
		held[l] = struct{}{}
	}
	for _, l := range other.LockSet {
		if _, ok := held[l]; ok {
			return true
		}
	}
	return false
}
