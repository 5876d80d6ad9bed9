package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/storage/postgres"
)

// openTestStore connects to RACEWAY_TEST_POSTGRES_URL and migrates a
// clean schema. Tests using it are skipped (never failed) when the
// variable is unset, since this package has no embedded Postgres of its
// own to stand up.
func openTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("RACEWAY_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("RACEWAY_TEST_POSTGRES_URL not set, skipping postgres contract tests")
	}

	ctx := context.Background()
	s, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Clear(ctx))
	t.Cleanup(s.Close)
	return s
}

func newStateChangeEvent(traceID uuid.UUID, ts time.Time) *event.Event {
	return &event.Event{
		ID:        uuid.New(),
		TraceID:   traceID,
		Timestamp: ts,
		Kind: event.StateChange{
			Variable:   "balance",
			AccessType: event.AccessWrite,
		},
		Metadata: event.Metadata{ThreadID: "t1", ServiceName: "svc", InstanceID: "i1"},
	}
}

func TestPostgresAddEventIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	traceID := uuid.New()
	e := newStateChangeEvent(traceID, time.Now())

	require.NoError(t, s.AddEvent(ctx, e, time.Now()))
	require.NoError(t, s.AddEvent(ctx, e, time.Now()))

	count, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	got, err := s.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.TraceID, got.TraceID)
}

func TestPostgresGetTraceEventsOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	traceID := uuid.New()
	base := time.Now()

	e2 := newStateChangeEvent(traceID, base.Add(2*time.Second))
	e1 := newStateChangeEvent(traceID, base.Add(1*time.Second))
	require.NoError(t, s.AddEvent(ctx, e2, time.Now()))
	require.NoError(t, s.AddEvent(ctx, e1, time.Now()))

	events, err := s.GetTraceEvents(ctx, traceID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, e1.ID, events[0].ID)
	assert.Equal(t, e2.ID, events[1].ID)
}

func TestPostgresBaselineWelfordAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, d := range []uint64{100, 200, 300} {
		require.NoError(t, s.RecordBaseline(ctx, "op", d))
	}
	b, ok, err := s.GetBaseline(ctx, "op")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 3, b.Count)
	assert.InDelta(t, 200, b.Mean, 0.001)
}

func TestPostgresCleanupOlderThanCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	traceID := uuid.New()
	now := time.Now()
	ingestedAt := now.Add(-2 * time.Hour)
	e := newStateChangeEvent(traceID, ingestedAt)

	require.NoError(t, s.AddEvent(ctx, e, ingestedAt))
	require.NoError(t, s.IndexStateChange(ctx, e))

	stats, err := s.CleanupOlderThan(ctx, 1, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.EventsDeleted)
	assert.EqualValues(t, 1, stats.CrossTraceIndexDeleted)

	count, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}
