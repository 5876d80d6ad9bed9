// Package storage defines the backend-agnostic persistence capability
// described in spec §4.3 and its two implementations: an in-process
// backend (internal/storage/memory) and a relational backend
// (internal/storage/postgres). Analyses depend only on the Storage
// interface, never on a concrete backend, per spec §9's "dynamic
// dispatch" design note.
package storage

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// EdgeType enumerates the kinds of DistributedEdge described in spec §3.
type EdgeType string

const (
	EdgeHttpCall  EdgeType = "HttpCall"
	EdgeGrpcCall  EdgeType = "GrpcCall"
	EdgeQueueSend EdgeType = "QueueSend"
	EdgeGeneric   EdgeType = "Generic"
)

// Span is a service's participation in a trace, identified by its
// distributed_span_id (spec §3, DistributedSpan).
type Span struct {
	TraceID      uuid.UUID
	SpanID       uuid.UUID
	Service      string
	Instance     string
	FirstEventTS time.Time
}

// DistributedEdge links two spans across a service boundary (spec §3).
type DistributedEdge struct {
	TraceID      uuid.UUID
	FromSpanID   uuid.UUID
	ToSpanID     uuid.UUID
	EdgeType     EdgeType
	Metadata     map[string]string
}

// Baseline is the running Welford summary of durations for one operation
// key (spec §3, "Baseline metrics").
type Baseline struct {
	Operation string
	Count     uint64
	Mean      float64
	// M2 is the running sum of squared deviations from the mean, the
	// Welford accumulator from which Variance/StdDev are derived.
	M2  float64
	Min uint64
	Max uint64
	Sum uint64
}

// Variance returns the population variance of the sampled durations.
func (b Baseline) Variance() float64 {
	if b.Count == 0 {
		return 0
	}
	return b.M2 / float64(b.Count)
}

// StdDev returns the population standard deviation of the sampled
// durations.
func (b Baseline) StdDev() float64 {
	v := b.Variance()
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Observe folds one new duration sample into the baseline using
// Welford's single-pass algorithm, returning the updated baseline. The
// receiver is left unmodified so callers can decide how to persist the
// result (e.g. compare-and-swap under a per-key lock).
func (b Baseline) Observe(op string, durationNs uint64) Baseline {
	b.Operation = op
	b.Count++
	delta := float64(durationNs) - b.Mean
	b.Mean += delta / float64(b.Count)
	delta2 := float64(durationNs) - b.Mean
	b.M2 += delta * delta2

	if b.Count == 1 || durationNs < b.Min {
		b.Min = durationNs
	}
	if durationNs > b.Max {
		b.Max = durationNs
	}
	b.Sum += durationNs
	return b
}

// CrossTraceRow is one entry of the cross-trace index (spec §3): a
// StateChange event indexed by variable name across all traces, used
// for cross-trace race mining.
type CrossTraceRow struct {
	Variable   string
	EventID    uuid.UUID
	TraceID    uuid.UUID
	Timestamp  time.Time
	ThreadID   string
	AccessType string
}

// AnomalySeverity classifies a detected performance anomaly (spec §4.5).
type AnomalySeverity string

const (
	AnomalyMinor    AnomalySeverity = "Minor"
	AnomalyWarning  AnomalySeverity = "Warning"
	AnomalyCritical AnomalySeverity = "Critical"
)

// AnomalyRecord is a persisted anomaly detection result (see
// SPEC_FULL.md "Structured Anomaly/RaceCondition persistence"). The
// anomalies endpoint recomputes z-scores on every call and records each
// result; the stored rows back CountAnomalies.
type AnomalyRecord struct {
	TraceID     uuid.UUID
	EventID     uuid.UUID
	Operation   string
	Z           float64
	ExpectedMs  float64
	ActualMs    float64
	Severity    AnomalySeverity
	Description string
	DetectedAt  time.Time
}

// CleanupStats reports how many rows a retention sweep removed, per
// table family, for observability.
type CleanupStats struct {
	EventsDeleted           int64
	CausalEdgesDeleted      int64
	DistributedSpansDeleted int64
	DistributedEdgesDeleted int64
	CrossTraceIndexDeleted  int64
	AnomaliesDeleted        int64
}
