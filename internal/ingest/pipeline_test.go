package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/ingest"
	"github.com/archtrace/raceway/internal/storage/memory"
)

func plainEvent(id uuid.UUID, parent *uuid.UUID, ts time.Time) *event.Event {
	return &event.Event{
		ID:        id,
		TraceID:   uuid.New(),
		ParentID:  parent,
		Timestamp: ts,
		Kind:      event.Custom{Name: "step"},
		Metadata:  event.Metadata{ThreadID: "t1", ServiceName: "svc", InstanceID: "i1"},
	}
}

func TestIngestAssignsIncreasingComponentClock(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	registry := ingest.NewClockRegistry(0, 0)
	p := ingest.New(store, registry, 0)

	base := time.Now()
	e1 := plainEvent(uuid.New(), nil, base)
	e2 := plainEvent(uuid.New(), nil, base.Add(time.Second))
	e2.Metadata = e1.Metadata

	res, err := p.Ingest(ctx, []*event.Event{e1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ingested)
	assert.EqualValues(t, 1, e1.CausalityVector["svc#i1"])

	_, err = p.Ingest(ctx, []*event.Event{e2})
	require.NoError(t, err)
	assert.EqualValues(t, 2, e2.CausalityVector["svc#i1"])
}

func TestIngestIsIdempotentOnEventID(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	p := ingest.New(store, ingest.NewClockRegistry(0, 0), 0)

	e := plainEvent(uuid.New(), nil, time.Now())
	_, err := p.Ingest(ctx, []*event.Event{e})
	require.NoError(t, err)
	_, err = p.Ingest(ctx, []*event.Event{e})
	require.NoError(t, err)

	count, err := store.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestIngestRejectsOverBackpressureCap(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	p := ingest.New(store, ingest.NewClockRegistry(0, 0), 1)

	events := []*event.Event{
		plainEvent(uuid.New(), nil, time.Now()),
		plainEvent(uuid.New(), nil, time.Now()),
	}
	_, err := p.Ingest(ctx, events)
	require.Error(t, err)
}

func TestIngestIndexesStateChangeAndBaseline(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	p := ingest.New(store, ingest.NewClockRegistry(0, 0), 0)

	duration := uint64(10_000_000)
	e := &event.Event{
		ID:        uuid.New(),
		TraceID:   uuid.New(),
		Timestamp: time.Now(),
		Kind:      event.StateChange{Variable: "x", AccessType: event.AccessWrite},
		Metadata:  event.Metadata{ThreadID: "t1", ServiceName: "svc", InstanceID: "i1", DurationNs: &duration},
	}
	// StateChange has no OperationKey, so no baseline should be
	// recorded even though duration_ns is present.
	_, err := p.Ingest(ctx, []*event.Event{e})
	require.NoError(t, err)

	rows, err := store.GetVariableHistory(ctx, "x")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, ok, err := store.GetBaseline(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)
}
