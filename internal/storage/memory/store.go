package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/raceerr"
	"github.com/archtrace/raceway/internal/storage"
)

type storedEvent struct {
	event      *event.Event
	ingestedAt time.Time
}

type traceBucket struct {
	mu          sync.RWMutex
	eventIDs    []string
	firstSeenAt time.Time
}

type spanBucket struct {
	mu    sync.RWMutex
	spans map[string]storage.Span
}

type edgeBucket struct {
	mu    sync.RWMutex
	edges map[string]storage.DistributedEdge
}

type anomalyBucket struct {
	mu        sync.RWMutex
	anomalies map[string]storage.AnomalyRecord
}

// Store is the in-process Storage backend: concurrent maps sharded by
// key, with no coarse global lock, per spec §4.3/§9.
type Store struct {
	events    *shardedMap[*storedEvent]
	traces    *shardedMap[*traceBucket]
	spans     *shardedMap[*spanBucket]
	edges     *shardedMap[*edgeBucket]
	baselines *shardedMap[storage.Baseline]
	variables *shardedMap[*varBucket]
	anomalies *shardedMap[*anomalyBucket]

	registryMu sync.RWMutex
	traceOrder []uuid.UUID
	traceSeen  map[uuid.UUID]struct{}
}

type varBucket struct {
	mu   sync.RWMutex
	rows []storage.CrossTraceRow
}

// New constructs an empty in-process Store.
func New() *Store {
	return &Store{
		events:    newShardedMap[*storedEvent](),
		traces:    newShardedMap[*traceBucket](),
		spans:     newShardedMap[*spanBucket](),
		edges:     newShardedMap[*edgeBucket](),
		baselines: newShardedMap[storage.Baseline](),
		variables: newShardedMap[*varBucket](),
		anomalies: newShardedMap[*anomalyBucket](),
		traceSeen: make(map[uuid.UUID]struct{}),
	}
}

var _ storage.Storage = (*Store)(nil)

func (s *Store) traceBucketFor(traceID uuid.UUID) *traceBucket {
	key := traceID.String()
	b, ok := s.traces.Get(key)
	if ok {
		return b
	}
	return s.traces.Update(key, func(cur *traceBucket, existed bool) *traceBucket {
		if existed {
			return cur
		}
		return &traceBucket{}
	})
}

func (s *Store) registerTrace(traceID uuid.UUID, at time.Time) {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	if _, ok := s.traceSeen[traceID]; ok {
		return
	}
	s.traceSeen[traceID] = struct{}{}
	s.traceOrder = append(s.traceOrder, traceID)
	_ = at
}

func (s *Store) unregisterTrace(traceID uuid.UUID) {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	if _, ok := s.traceSeen[traceID]; !ok {
		return
	}
	delete(s.traceSeen, traceID)
	for i, id := range s.traceOrder {
		if id == traceID {
			s.traceOrder = append(s.traceOrder[:i], s.traceOrder[i+1:]...)
			break
		}
	}
}

// AddEvent implements storage.Storage.
func (s *Store) AddEvent(_ context.Context, e *event.Event, ingestedAt time.Time) error {
	key := e.ID.String()
	if _, exists := s.events.Get(key); exists {
		return nil // idempotent on event_id, spec P2
	}
	s.events.Update(key, func(cur *storedEvent, existed bool) *storedEvent {
		if existed {
			return cur
		}
		return &storedEvent{event: e, ingestedAt: ingestedAt}
	})

	s.registerTrace(e.TraceID, ingestedAt)

	tb := s.traceBucketFor(e.TraceID)
	tb.mu.Lock()
	if tb.firstSeenAt.IsZero() {
		tb.firstSeenAt = ingestedAt
	}
	tb.eventIDs = append(tb.eventIDs, key)
	tb.mu.Unlock()

	return nil
}

// AddEventBatch implements storage.Storage. The in-process backend has
// no transactional boundary to violate, so this simply adds events in
// order; each individual AddEvent call is already idempotent.
func (s *Store) AddEventBatch(ctx context.Context, events []*event.Event, ingestedAt time.Time) error {
	for _, e := range events {
		if err := s.AddEvent(ctx, e, ingestedAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetEvent(_ context.Context, eventID uuid.UUID) (*event.Event, error) {
	se, ok := s.events.Get(eventID.String())
	if !ok {
		return nil, raceerr.ErrNotFound
	}
	return se.event, nil
}

func (s *Store) GetTraceEvents(_ context.Context, traceID uuid.UUID) ([]*event.Event, error) {
	tb, ok := s.traces.Get(traceID.String())
	if !ok {
		return nil, nil
	}
	tb.mu.RLock()
	ids := append([]string(nil), tb.eventIDs...)
	tb.mu.RUnlock()

	out := make([]*event.Event, 0, len(ids))
	for _, id := range ids {
		if se, ok := s.events.Get(id); ok {
			out = append(out, se.event)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) GetAllTraceIDs(_ context.Context, page, pageSize int) ([]uuid.UUID, int64, error) {
	s.registryMu.RLock()
	defer s.registryMu.RUnlock()

	total := int64(len(s.traceOrder))
	start := (page - 1) * pageSize
	if start < 0 || start >= len(s.traceOrder) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(s.traceOrder) {
		end = len(s.traceOrder)
	}
	// Most-recently-seen first.
	out := make([]uuid.UUID, 0, end-start)
	for i := len(s.traceOrder) - 1 - start; i >= 0 && len(out) < pageSize; i-- {
		out = append(out, s.traceOrder[i])
	}
	return out, total, nil
}

func (s *Store) CountEvents(_ context.Context) (int64, error) {
	return int64(s.events.Len()), nil
}

func (s *Store) CountTraces(_ context.Context) (int64, error) {
	s.registryMu.RLock()
	defer s.registryMu.RUnlock()
	return int64(len(s.traceOrder)), nil
}

func (s *Store) spanBucketFor(traceID uuid.UUID) *spanBucket {
	key := traceID.String()
	return s.spans.Update(key, func(cur *spanBucket, existed bool) *spanBucket {
		if existed {
			return cur
		}
		return &spanBucket{spans: make(map[string]storage.Span)}
	})
}

func (s *Store) UpsertDistributedSpan(_ context.Context, span storage.Span) error {
	b := s.spanBucketFor(span.TraceID)
	b.mu.Lock()
	defer b.mu.Unlock()
	key := span.SpanID.String()
	if _, exists := b.spans[key]; !exists {
		b.spans[key] = span
	}
	return nil
}

func (s *Store) GetDistributedSpans(_ context.Context, traceID uuid.UUID) ([]storage.Span, error) {
	b, ok := s.spans.Get(traceID.String())
	if !ok {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]storage.Span, 0, len(b.spans))
	for _, sp := range b.spans {
		out = append(out, sp)
	}
	return out, nil
}

func (s *Store) edgeBucketFor(traceID uuid.UUID) *edgeBucket {
	key := traceID.String()
	return s.edges.Update(key, func(cur *edgeBucket, existed bool) *edgeBucket {
		if existed {
			return cur
		}
		return &edgeBucket{edges: make(map[string]storage.DistributedEdge)}
	})
}

func (s *Store) UpsertDistributedEdge(_ context.Context, e storage.DistributedEdge) error {
	b := s.edgeBucketFor(e.TraceID)
	b.mu.Lock()
	defer b.mu.Unlock()
	key := e.FromSpanID.String() + "->" + e.ToSpanID.String()
	b.edges[key] = e
	return nil
}

func (s *Store) GetDistributedEdges(_ context.Context, traceID uuid.UUID) ([]storage.DistributedEdge, error) {
	b, ok := s.edges.Get(traceID.String())
	if !ok {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]storage.DistributedEdge, 0, len(b.edges))
	for _, e := range b.edges {
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) RecordBaseline(_ context.Context, op string, durationNs uint64) error {
	s.baselines.Update(op, func(cur storage.Baseline, existed bool) storage.Baseline {
		return cur.Observe(op, durationNs)
	})
	return nil
}

func (s *Store) GetBaseline(_ context.Context, op string) (storage.Baseline, bool, error) {
	b, ok := s.baselines.Get(op)
	return b, ok, nil
}

func (s *Store) AllBaselines(_ context.Context, limit int) ([]storage.Baseline, error) {
	var out []storage.Baseline
	s.baselines.Range(func(_ string, b storage.Baseline) {
		out = append(out, b)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) varBucketFor(variable string) *varBucket {
	return s.variables.Update(variable, func(cur *varBucket, existed bool) *varBucket {
		if existed {
			return cur
		}
		return &varBucket{}
	})
}

func (s *Store) IndexStateChange(_ context.Context, e *event.Event) error {
	sc, ok := e.StateChange()
	if !ok {
		return nil
	}
	b := s.varBucketFor(sc.Variable)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, storage.CrossTraceRow{
		Variable:   sc.Variable,
		EventID:    e.ID,
		TraceID:    e.TraceID,
		Timestamp:  e.Timestamp,
		ThreadID:   e.Metadata.ThreadID,
		AccessType: string(sc.AccessType),
	})
	return nil
}

func (s *Store) GetVariableHistory(_ context.Context, variable string) ([]storage.CrossTraceRow, error) {
	b, ok := s.variables.Get(variable)
	if !ok {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := append([]storage.CrossTraceRow(nil), b.rows...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) anomalyBucketFor(traceID uuid.UUID) *anomalyBucket {
	key := traceID.String()
	return s.anomalies.Update(key, func(cur *anomalyBucket, existed bool) *anomalyBucket {
		if existed {
			return cur
		}
		return &anomalyBucket{anomalies: make(map[string]storage.AnomalyRecord)}
	})
}

func (s *Store) RecordAnomaly(_ context.Context, a storage.AnomalyRecord) error {
	b := s.anomalyBucketFor(a.TraceID)
	b.mu.Lock()
	defer b.mu.Unlock()
	key := a.EventID.String()
	if _, exists := b.anomalies[key]; !exists {
		b.anomalies[key] = a
	}
	return nil
}

func (s *Store) GetAnomalies(_ context.Context, traceID uuid.UUID) ([]storage.AnomalyRecord, error) {
	b, ok := s.anomalies.Get(traceID.String())
	if !ok {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]storage.AnomalyRecord, 0, len(b.anomalies))
	for _, a := range b.anomalies {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (s *Store) CountAnomalies(_ context.Context) (int64, error) {
	var total int64
	s.anomalies.Range(func(_ string, b *anomalyBucket) {
		b.mu.RLock()
		total += int64(len(b.anomalies))
		b.mu.RUnlock()
	})
	return total, nil
}

func (s *Store) CleanupOlderThan(_ context.Context, retentionHours int, now time.Time) (storage.CleanupStats, error) {
	var stats storage.CleanupStats
	cutoff := now.Add(-time.Duration(retentionHours) * time.Hour)

	removed := make(map[string]struct{})
	stats.EventsDeleted = int64(s.events.DeleteWhere(func(key string, se *storedEvent) bool {
		if se.ingestedAt.Before(cutoff) {
			removed[key] = struct{}{}
			return true
		}
		return false
	}))
	if len(removed) == 0 {
		return stats, nil
	}

	var emptiedTraces []uuid.UUID
	s.traces.Range(func(traceKey string, tb *traceBucket) {
		tb.mu.Lock()
		kept := tb.eventIDs[:0:0]
		for _, id := range tb.eventIDs {
			if _, gone := removed[id]; !gone {
				kept = append(kept, id)
			}
		}
		tb.eventIDs = kept
		empty := len(kept) == 0
		tb.mu.Unlock()
		if empty {
			if id, err := uuid.Parse(traceKey); err == nil {
				emptiedTraces = append(emptiedTraces, id)
			}
		}
	})

	for _, traceID := range emptiedTraces {
		s.unregisterTrace(traceID)
		s.traces.Delete(traceID.String())
		if b, ok := s.spans.Get(traceID.String()); ok {
			b.mu.RLock()
			stats.DistributedSpansDeleted += int64(len(b.spans))
			b.mu.RUnlock()
			s.spans.Delete(traceID.String())
		}
		if b, ok := s.edges.Get(traceID.String()); ok {
			b.mu.RLock()
			stats.DistributedEdgesDeleted += int64(len(b.edges))
			b.mu.RUnlock()
			s.edges.Delete(traceID.String())
		}
		if b, ok := s.anomalies.Get(traceID.String()); ok {
			b.mu.RLock()
			stats.AnomaliesDeleted += int64(len(b.anomalies))
			b.mu.RUnlock()
			s.anomalies.Delete(traceID.String())
		}
	}

	s.variables.Range(func(variable string, b *varBucket) {
		b.mu.Lock()
		kept := b.rows[:0:0]
		for _, row := range b.rows {
			if _, gone := removed[row.EventID.String()]; gone {
				stats.CrossTraceIndexDeleted++
				continue
			}
			kept = append(kept, row)
		}
		b.rows = kept
		b.mu.Unlock()
	})

	return stats, nil
}

func (s *Store) Clear(_ context.Context) error {
	s.events = newShardedMap[*storedEvent]()
	s.traces = newShardedMap[*traceBucket]()
	s.spans = newShardedMap[*spanBucket]()
	s.edges = newShardedMap[*edgeBucket]()
	s.baselines = newShardedMap[storage.Baseline]()
	s.variables = newShardedMap[*varBucket]()
	s.anomalies = newShardedMap[*anomalyBucket]()

	s.registryMu.Lock()
	s.traceOrder = nil
	s.traceSeen = make(map[uuid.UUID]struct{})
	s.registryMu.Unlock()
	return nil
}

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() {}
