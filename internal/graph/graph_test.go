package graph_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archtrace/raceway/internal/clock"
	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/graph"
	"github.com/archtrace/raceway/internal/storage"
)

func ev(id uuid.UUID, parent *uuid.UUID, ts time.Time, c clock.Vector) *event.Event {
	return &event.Event{
		ID:              id,
		TraceID:         uuid.New(),
		ParentID:        parent,
		Timestamp:       ts,
		Kind:            event.Custom{Name: "noop"},
		Metadata:        event.Metadata{ThreadID: "t1", ServiceName: "svc", InstanceID: "i1"},
		CausalityVector: c,
	}
}

func TestTopologicalSortRespectsParentOrder(t *testing.T) {
	base := time.Now()
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	evA := ev(a, nil, base, nil)
	evB := ev(b, &a, base.Add(time.Second), nil)
	evC := ev(c, &b, base.Add(2*time.Second), nil)

	g, err := graph.Build([]*event.Event{evC, evA, evB}, nil)
	require.NoError(t, err)

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b, c}, order)
}

func TestHappensBeforeViaParentChain(t *testing.T) {
	base := time.Now()
	a := uuid.New()
	b := uuid.New()
	evA := ev(a, nil, base, nil)
	evB := ev(b, &a, base.Add(time.Second), nil)

	g, err := graph.Build([]*event.Event{evA, evB}, nil)
	require.NoError(t, err)

	assert.True(t, g.HappensBefore(a, b))
	assert.False(t, g.HappensBefore(b, a))
}

func TestConcurrentWhenNoEdgeOrClockOrdering(t *testing.T) {
	base := time.Now()
	a := uuid.New()
	b := uuid.New()
	evA := ev(a, nil, base, clock.Vector{"svc#i1": 1})
	evB := ev(b, nil, base, clock.Vector{"svc#i2": 1})

	g, err := graph.Build([]*event.Event{evA, evB}, nil)
	require.NoError(t, err)

	assert.True(t, g.Concurrent(a, b))
}

func TestHappensBeforeViaDistributedEdge(t *testing.T) {
	base := time.Now()
	traceID := uuid.New()
	spanA := uuid.New()
	spanB := uuid.New()
	a := uuid.New()
	b := uuid.New()

	evA := &event.Event{
		ID: a, TraceID: traceID, Timestamp: base,
		Kind:     event.Custom{Name: "noop"},
		Metadata: event.Metadata{ThreadID: "t1", ServiceName: "svc-a", InstanceID: "i1", DistributedSpanID: &spanA},
	}
	evB := &event.Event{
		ID: b, TraceID: traceID, Timestamp: base.Add(time.Second),
		Kind:     event.Custom{Name: "noop"},
		Metadata: event.Metadata{ThreadID: "t1", ServiceName: "svc-b", InstanceID: "i1", DistributedSpanID: &spanB},
	}

	edges := []storage.DistributedEdge{
		{TraceID: traceID, FromSpanID: spanA, ToSpanID: spanB, EdgeType: storage.EdgeHttpCall},
	}

	g, err := graph.Build([]*event.Event{evA, evB}, edges)
	require.NoError(t, err)
	assert.True(t, g.HappensBefore(a, b))
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	base := time.Now()
	evA := ev(a, &b, base, nil)
	evB := ev(b, &a, base.Add(time.Second), nil)

	g, err := graph.Build([]*event.Event{evA, evB}, nil)
	require.NoError(t, err)

	_, err = g.TopologicalSort()
	require.Error(t, err)
	var cycleErr *graph.CyclicGraphError
	require.ErrorAs(t, err, &cycleErr)
	assert.Len(t, cycleErr.Offending, 2)
}
