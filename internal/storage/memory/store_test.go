package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/storage"
	"github.com/archtrace/raceway/internal/storage/memory"
)

func newStateChangeEvent(t *testing.T, traceID uuid.UUID, ts time.Time) *event.Event {
	t.Helper()
	return &event.Event{
		ID:        uuid.New(),
		TraceID:   traceID,
		Timestamp: ts,
		Kind: event.StateChange{
			Variable:   "x",
			AccessType: event.AccessWrite,
		},
		Metadata: event.Metadata{ThreadID: "t1", ServiceName: "svc", InstanceID: "i1"},
	}
}

func TestAddEventIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	traceID := uuid.New()
	e := newStateChangeEvent(t, traceID, time.Now())

	require.NoError(t, s.AddEvent(ctx, e, time.Now()))
	require.NoError(t, s.AddEvent(ctx, e, time.Now()))

	count, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestGetTraceEventsOrderedByTimestampThenID(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	traceID := uuid.New()
	base := time.Now()

	e2 := newStateChangeEvent(t, traceID, base.Add(2*time.Second))
	e1 := newStateChangeEvent(t, traceID, base.Add(1*time.Second))
	require.NoError(t, s.AddEvent(ctx, e2, time.Now()))
	require.NoError(t, s.AddEvent(ctx, e1, time.Now()))

	events, err := s.GetTraceEvents(ctx, traceID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, e1.ID, events[0].ID)
	assert.Equal(t, e2.ID, events[1].ID)
}

func TestGetAllTraceIDsPagination(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		traceID := uuid.New()
		ids = append(ids, traceID)
		require.NoError(t, s.AddEvent(ctx, newStateChangeEvent(t, traceID, time.Now()), time.Now()))
	}

	page1, total, err := s.GetAllTraceIDs(ctx, 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, page1, 2)

	page3, _, err := s.GetAllTraceIDs(ctx, 3, 2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
}

func TestBaselineWelfordAccumulates(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	for _, d := range []uint64{100, 200, 300} {
		require.NoError(t, s.RecordBaseline(ctx, "op", d))
	}
	b, ok, err := s.GetBaseline(ctx, "op")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 3, b.Count)
	assert.InDelta(t, 200, b.Mean, 0.001)
}

func TestIndexStateChangeAndGetVariableHistory(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	traceID := uuid.New()
	e := newStateChangeEvent(t, traceID, time.Now())
	require.NoError(t, s.AddEvent(ctx, e, time.Now()))
	require.NoError(t, s.IndexStateChange(ctx, e))

	rows, err := s.GetVariableHistory(ctx, "x")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, e.ID, rows[0].EventID)
}

func TestCleanupOlderThanCascades(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	traceID := uuid.New()
	now := time.Now()
	e := newStateChangeEvent(t, traceID, now.Add(-2*time.Hour))
	ingestedAt := now.Add(-2 * time.Hour)

	require.NoError(t, s.AddEvent(ctx, e, ingestedAt))
	require.NoError(t, s.IndexStateChange(ctx, e))
	require.NoError(t, s.UpsertDistributedSpan(ctx, storage.Span{TraceID: traceID, SpanID: uuid.New(), Service: "svc", Instance: "i1", FirstEventTS: now}))

	stats, err := s.CleanupOlderThan(ctx, 1, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.EventsDeleted)
	assert.EqualValues(t, 1, stats.CrossTraceIndexDeleted)
	assert.EqualValues(t, 1, stats.DistributedSpansDeleted)

	count, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	rows, err := s.GetVariableHistory(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
