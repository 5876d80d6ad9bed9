// Package postgres implements the relational storage backend from spec
// §4.3, built directly on pgx/v5 and pgxpool the way
// apps/iam-service/cmd/api/main.go and apps/cdc-worker wire their own
// pools: a pgxpool.Config with otelpgx.NewTracer() attached, raw SQL
// issued through pool.Exec/QueryRow/Query, no generated query layer.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/raceerr"
	"github.com/archtrace/raceway/internal/storage"
)

// Store is the pgx-backed implementation of storage.Storage.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Storage = (*Store)(nil)

// Open parses dsn, attaches the otelpgx tracer and connects a pool,
// mirroring apps/iam-service/cmd/api/main.go's
// "poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()" startup sequence.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE TABLE
		events, distributed_spans, distributed_edges, causal_edges,
		baseline_metrics, cross_trace_index, anomalies, trace_roots`)
	return err
}

func operationVariable(e *event.Event) *string {
	if sc, ok := e.StateChange(); ok {
		return &sc.Variable
	}
	return nil
}

// AddEvent stores e's full wire payload as JSONB and upserts the
// owning trace's first-seen marker, all in one transaction so a crash
// mid-insert never leaves an orphaned trace_roots row.
func (s *Store) AddEvent(ctx context.Context, e *event.Event, ingestedAt time.Time) error {
	return s.AddEventBatch(ctx, []*event.Event{e}, ingestedAt)
}

// AddEventBatch inserts every event in one transaction, ON CONFLICT DO
// NOTHING on event_id for idempotent re-ingest (spec §4.3/P2). The whole
// batch either lands or none of it does.
func (s *Store) AddEventBatch(ctx context.Context, events []*event.Event, ingestedAt time.Time) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	seenTraces := make(map[uuid.UUID]struct{}, len(events))
	for _, e := range events {
		payload, err := event.Encode(e)
		if err != nil {
			return fmt.Errorf("postgres: encode event %s: %w", e.ID, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO events (event_id, trace_id, parent_id, ts, variable, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (event_id) DO NOTHING`,
			e.ID, e.TraceID, e.ParentID, e.Timestamp, operationVariable(e), payload, ingestedAt)
		if err != nil {
			return fmt.Errorf("postgres: insert event %s: %w", e.ID, err)
		}

		if _, ok := seenTraces[e.TraceID]; !ok {
			seenTraces[e.TraceID] = struct{}{}
			_, err = tx.Exec(ctx, `
				INSERT INTO trace_roots (trace_id, first_seen_at)
				VALUES ($1, $2)
				ON CONFLICT (trace_id) DO NOTHING`,
				e.TraceID, ingestedAt)
			if err != nil {
				return fmt.Errorf("postgres: insert trace_root %s: %w", e.TraceID, err)
			}
		}
	}

	return tx.Commit(ctx)
}

func scanEvent(payload []byte) (*event.Event, error) {
	return event.Decode(json.RawMessage(payload))
}

func (s *Store) GetEvent(ctx context.Context, eventID uuid.UUID) (*event.Event, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM events WHERE event_id = $1`, eventID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, raceerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get event %s: %w", eventID, err)
	}
	return scanEvent(payload)
}

func (s *Store) GetTraceEvents(ctx context.Context, traceID uuid.UUID) ([]*event.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM events WHERE trace_id = $1 ORDER BY ts ASC, event_id ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get trace events %s: %w", traceID, err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan trace event: %w", err)
		}
		e, err := scanEvent(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetAllTraceIDs(ctx context.Context, page, pageSize int) ([]uuid.UUID, int64, error) {
	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trace_roots`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count trace_roots: %w", err)
	}

	offset := (page - 1) * pageSize
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `
		SELECT trace_id FROM trace_roots ORDER BY first_seen_at DESC, trace_id DESC
		LIMIT $1 OFFSET $2`, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: page trace_roots: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, 0, fmt.Errorf("postgres: scan trace id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, total, rows.Err()
}

func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

func (s *Store) CountTraces(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trace_roots`).Scan(&n)
	return n, err
}

func (s *Store) UpsertDistributedSpan(ctx context.Context, span storage.Span) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO distributed_spans (trace_id, span_id, service, instance, first_event_ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (trace_id, span_id) DO UPDATE SET
			first_event_ts = LEAST(distributed_spans.first_event_ts, EXCLUDED.first_event_ts)`,
		span.TraceID, span.SpanID, span.Service, span.Instance, span.FirstEventTS)
	if err != nil {
		return fmt.Errorf("postgres: upsert span %s: %w", span.SpanID, err)
	}
	return nil
}

func (s *Store) GetDistributedSpans(ctx context.Context, traceID uuid.UUID) ([]storage.Span, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trace_id, span_id, service, instance, first_event_ts
		FROM distributed_spans WHERE trace_id = $1 ORDER BY first_event_ts ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get spans %s: %w", traceID, err)
	}
	defer rows.Close()

	var out []storage.Span
	for rows.Next() {
		var sp storage.Span
		if err := rows.Scan(&sp.TraceID, &sp.SpanID, &sp.Service, &sp.Instance, &sp.FirstEventTS); err != nil {
			return nil, fmt.Errorf("postgres: scan span: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *Store) UpsertDistributedEdge(ctx context.Context, e storage.DistributedEdge) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal edge metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO distributed_edges (trace_id, from_span, to_span, edge_type, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (trace_id, from_span, to_span) DO UPDATE SET
			edge_type = EXCLUDED.edge_type, metadata = EXCLUDED.metadata`,
		e.TraceID, e.FromSpanID, e.ToSpanID, string(e.EdgeType), metadata)
	if err != nil {
		return fmt.Errorf("postgres: upsert distributed edge: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO causal_edges (trace_id, from_event, to_event, edge_kind)
		VALUES ($1, $2, $3, 'Distributed')
		ON CONFLICT (trace_id, from_event, to_event, edge_kind) DO NOTHING`,
		e.TraceID, e.FromSpanID, e.ToSpanID)
	if err != nil {
		return fmt.Errorf("postgres: mirror causal edge: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) GetDistributedEdges(ctx context.Context, traceID uuid.UUID) ([]storage.DistributedEdge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trace_id, from_span, to_span, edge_type, metadata
		FROM distributed_edges WHERE trace_id = $1`, traceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get edges %s: %w", traceID, err)
	}
	defer rows.Close()

	var out []storage.DistributedEdge
	for rows.Next() {
		var e storage.DistributedEdge
		var edgeType string
		var metadata []byte
		if err := rows.Scan(&e.TraceID, &e.FromSpanID, &e.ToSpanID, &edgeType, &metadata); err != nil {
			return nil, fmt.Errorf("postgres: scan edge: %w", err)
		}
		e.EdgeType = storage.EdgeType(edgeType)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal edge metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordBaseline folds one sample into baseline_metrics inside one
// transaction: it reads the current row with SELECT ... FOR UPDATE,
// applies Baseline.Observe, and writes the result back with
// INSERT ... ON CONFLICT DO UPDATE.
func (s *Store) RecordBaseline(ctx context.Context, op string, durationNs uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var b storage.Baseline
	err = tx.QueryRow(ctx, `
		SELECT operation, count, mean, m2, min_ns, max_ns, sum_ns
		FROM baseline_metrics WHERE operation = $1 FOR UPDATE`, op).
		Scan(&b.Operation, &b.Count, &b.Mean, &b.M2, &b.Min, &b.Max, &b.Sum)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: lock baseline %s: %w", op, err)
	}

	next := b.Observe(op, durationNs)

	_, err = tx.Exec(ctx, `
		INSERT INTO baseline_metrics (operation, count, mean, m2, min_ns, max_ns, sum_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (operation) DO UPDATE SET
			count = EXCLUDED.count, mean = EXCLUDED.mean, m2 = EXCLUDED.m2,
			min_ns = EXCLUDED.min_ns, max_ns = EXCLUDED.max_ns, sum_ns = EXCLUDED.sum_ns`,
		next.Operation, next.Count, next.Mean, next.M2, next.Min, next.Max, next.Sum)
	if err != nil {
		return fmt.Errorf("postgres: upsert baseline %s: %w", op, err)
	}

	return tx.Commit(ctx)
}

func (s *Store) GetBaseline(ctx context.Context, op string) (storage.Baseline, bool, error) {
	var b storage.Baseline
	err := s.pool.QueryRow(ctx, `
		SELECT operation, count, mean, m2, min_ns, max_ns, sum_ns
		FROM baseline_metrics WHERE operation = $1`, op).
		Scan(&b.Operation, &b.Count, &b.Mean, &b.M2, &b.Min, &b.Max, &b.Sum)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Baseline{}, false, nil
	}
	if err != nil {
		return storage.Baseline{}, false, fmt.Errorf("postgres: get baseline %s: %w", op, err)
	}
	return b, true, nil
}

func (s *Store) AllBaselines(ctx context.Context, limit int) ([]storage.Baseline, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT operation, count, mean, m2, min_ns, max_ns, sum_ns
		FROM baseline_metrics ORDER BY operation ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list baselines: %w", err)
	}
	defer rows.Close()

	var out []storage.Baseline
	for rows.Next() {
		var b storage.Baseline
		if err := rows.Scan(&b.Operation, &b.Count, &b.Mean, &b.M2, &b.Min, &b.Max, &b.Sum); err != nil {
			return nil, fmt.Errorf("postgres: scan baseline: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) IndexStateChange(ctx context.Context, e *event.Event) error {
	sc, ok := e.StateChange()
	if !ok {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cross_trace_index (variable, event_id, trace_id, ts, thread_id, access_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (variable, event_id) DO NOTHING`,
		sc.Variable, e.ID, e.TraceID, e.Timestamp, e.Metadata.ThreadID, string(sc.AccessType))
	if err != nil {
		return fmt.Errorf("postgres: index state change %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) GetVariableHistory(ctx context.Context, variable string) ([]storage.CrossTraceRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT variable, event_id, trace_id, ts, thread_id, access_type
		FROM cross_trace_index WHERE variable = $1 ORDER BY ts ASC`, variable)
	if err != nil {
		return nil, fmt.Errorf("postgres: get variable history %s: %w", variable, err)
	}
	defer rows.Close()

	var out []storage.CrossTraceRow
	for rows.Next() {
		var r storage.CrossTraceRow
		if err := rows.Scan(&r.Variable, &r.EventID, &r.TraceID, &r.Timestamp, &r.ThreadID, &r.AccessType); err != nil {
			return nil, fmt.Errorf("postgres: scan variable history row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) RecordAnomaly(ctx context.Context, a storage.AnomalyRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO anomalies (trace_id, event_id, operation, z, expected_ms, actual_ms, severity, description, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (trace_id, event_id) DO UPDATE SET
			z = EXCLUDED.z, expected_ms = EXCLUDED.expected_ms, actual_ms = EXCLUDED.actual_ms,
			severity = EXCLUDED.severity, description = EXCLUDED.description, detected_at = EXCLUDED.detected_at`,
		a.TraceID, a.EventID, a.Operation, a.Z, a.ExpectedMs, a.ActualMs, string(a.Severity), a.Description, a.DetectedAt)
	if err != nil {
		return fmt.Errorf("postgres: record anomaly: %w", err)
	}
	return nil
}

func (s *Store) CountAnomalies(ctx context.Context) (int64, error) {
	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM anomalies`).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: count anomalies: %w", err)
	}
	return total, nil
}

func (s *Store) GetAnomalies(ctx context.Context, traceID uuid.UUID) ([]storage.AnomalyRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trace_id, event_id, operation, z, expected_ms, actual_ms, severity, description, detected_at
		FROM anomalies WHERE trace_id = $1 ORDER BY detected_at ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get anomalies %s: %w", traceID, err)
	}
	defer rows.Close()

	var out []storage.AnomalyRecord
	for rows.Next() {
		var a storage.AnomalyRecord
		var severity string
		if err := rows.Scan(&a.TraceID, &a.EventID, &a.Operation, &a.Z, &a.ExpectedMs, &a.ActualMs, &severity, &a.Description, &a.DetectedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan anomaly: %w", err)
		}
		a.Severity = storage.AnomalySeverity(severity)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CleanupOlderThan mirrors the memory backend's cascade rule (spec
// §4.9/P9, seed scenario 6): spans, edges and anomalies for a trace are
// only swept once every event of that trace has aged out, while
// cross_trace_index rows are deleted per-event regardless.
func (s *Store) CleanupOlderThan(ctx context.Context, retentionHours int, now time.Time) (storage.CleanupStats, error) {
	cutoff := now.Add(-time.Duration(retentionHours) * time.Hour)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.CleanupStats{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var stats storage.CleanupStats

	idx, err := tx.Exec(ctx, `
		DELETE FROM cross_trace_index WHERE event_id IN (
			SELECT event_id FROM events WHERE created_at < $1)`, cutoff)
	if err != nil {
		return storage.CleanupStats{}, fmt.Errorf("postgres: cleanup cross_trace_index: %w", err)
	}
	stats.CrossTraceIndexDeleted = idx.RowsAffected()

	evt, err := tx.Exec(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return storage.CleanupStats{}, fmt.Errorf("postgres: cleanup events: %w", err)
	}
	stats.EventsDeleted = evt.RowsAffected()

	emptied, err := tx.Query(ctx, `
		SELECT tr.trace_id FROM trace_roots tr
		LEFT JOIN events e ON e.trace_id = tr.trace_id
		WHERE e.event_id IS NULL`)
	if err != nil {
		return storage.CleanupStats{}, fmt.Errorf("postgres: find emptied traces: %w", err)
	}
	var emptiedIDs []uuid.UUID
	for emptied.Next() {
		var id uuid.UUID
		if err := emptied.Scan(&id); err != nil {
			emptied.Close()
			return storage.CleanupStats{}, fmt.Errorf("postgres: scan emptied trace: %w", err)
		}
		emptiedIDs = append(emptiedIDs, id)
	}
	emptied.Close()
	if err := emptied.Err(); err != nil {
		return storage.CleanupStats{}, err
	}

	if len(emptiedIDs) > 0 {
		spans, err := tx.Exec(ctx, `DELETE FROM distributed_spans WHERE trace_id = ANY($1)`, emptiedIDs)
		if err != nil {
			return storage.CleanupStats{}, fmt.Errorf("postgres: cleanup spans: %w", err)
		}
		stats.DistributedSpansDeleted = spans.RowsAffected()

		edges, err := tx.Exec(ctx, `DELETE FROM distributed_edges WHERE trace_id = ANY($1)`, emptiedIDs)
		if err != nil {
			return storage.CleanupStats{}, fmt.Errorf("postgres: cleanup edges: %w", err)
		}
		stats.DistributedEdgesDeleted = edges.RowsAffected()

		causal, err := tx.Exec(ctx, `DELETE FROM causal_edges WHERE trace_id = ANY($1)`, emptiedIDs)
		if err != nil {
			return storage.CleanupStats{}, fmt.Errorf("postgres: cleanup causal_edges: %w", err)
		}
		stats.CausalEdgesDeleted = causal.RowsAffected()

		anomalies, err := tx.Exec(ctx, `DELETE FROM anomalies WHERE trace_id = ANY($1)`, emptiedIDs)
		if err != nil {
			return storage.CleanupStats{}, fmt.Errorf("postgres: cleanup anomalies: %w", err)
		}
		stats.AnomaliesDeleted = anomalies.RowsAffected()

		if _, err := tx.Exec(ctx, `DELETE FROM trace_roots WHERE trace_id = ANY($1)`, emptiedIDs); err != nil {
			return storage.CleanupStats{}, fmt.Errorf("postgres: cleanup trace_roots: %w", err)
		}
	}

	return stats, tx.Commit(ctx)
}
