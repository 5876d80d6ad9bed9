package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/archtrace/raceway/internal/event"
)

// Storage is the capability set spec §4.3 requires every backend to
// implement. The analysis and ingest layers depend only on this
// interface — never on *memory.Store or *postgres.Store directly — so
// that the relational and in-process backends are interchangeable.
type Storage interface {
	// AddEvent persists e. If an event with the same ID already exists,
	// AddEvent is a no-op (idempotent on event_id, spec §4.3/P2).
	// ingestedAt is the wall-clock time of ingestion, tracked separately
	// from e.Timestamp (the capture time) so that retention sweeps can
	// age out events by arrival time.
	AddEvent(ctx context.Context, e *event.Event, ingestedAt time.Time) error

	// AddEventBatch persists events atomically: for the relational
	// backend, all-or-nothing within one transaction (spec §4.3).
	AddEventBatch(ctx context.Context, events []*event.Event, ingestedAt time.Time) error

	GetEvent(ctx context.Context, eventID uuid.UUID) (*event.Event, error)

	// GetTraceEvents returns every event belonging to traceID, ordered
	// by (timestamp, event_id) as spec §4.3 requires for ordered reads.
	GetTraceEvents(ctx context.Context, traceID uuid.UUID) ([]*event.Event, error)

	// GetAllTraceIDs returns one page of distinct trace IDs (most
	// recently first-seen first) plus the total trace count for
	// pagination metadata.
	GetAllTraceIDs(ctx context.Context, page, pageSize int) ([]uuid.UUID, int64, error)

	CountEvents(ctx context.Context) (int64, error)
	CountTraces(ctx context.Context) (int64, error)

	UpsertDistributedSpan(ctx context.Context, s Span) error
	GetDistributedSpans(ctx context.Context, traceID uuid.UUID) ([]Span, error)

	UpsertDistributedEdge(ctx context.Context, e DistributedEdge) error
	GetDistributedEdges(ctx context.Context, traceID uuid.UUID) ([]DistributedEdge, error)

	// RecordBaseline folds one duration sample into the running Welford
	// summary for op, with per-key synchronization (spec §5).
	RecordBaseline(ctx context.Context, op string, durationNs uint64) error
	GetBaseline(ctx context.Context, op string) (Baseline, bool, error)
	AllBaselines(ctx context.Context, limit int) ([]Baseline, error)

	IndexStateChange(ctx context.Context, e *event.Event) error
	GetVariableHistory(ctx context.Context, variable string) ([]CrossTraceRow, error)

	RecordAnomaly(ctx context.Context, a AnomalyRecord) error
	GetAnomalies(ctx context.Context, traceID uuid.UUID) ([]AnomalyRecord, error)

	// CountAnomalies returns the total number of persisted anomaly
	// records across every trace, backing the performance-metrics
	// endpoint's anomalies_detected_total figure.
	CountAnomalies(ctx context.Context) (int64, error)

	// CleanupOlderThan deletes events (and cascades dependent rows) whose
	// ingestedAt predates now minus retentionHours, per spec §4.9/P9.
	CleanupOlderThan(ctx context.Context, retentionHours int, now time.Time) (CleanupStats, error)

	// Clear removes all data; used by tests and by operator tooling.
	Clear(ctx context.Context) error

	// Ping reports whether the backend is reachable, backing the
	// readiness probe (SPEC_FULL.md "Readiness endpoint").
	Ping(ctx context.Context) error

	// Close releases backend resources (connection pools, etc).
	Close()
}
