package analysis_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archtrace/raceway/internal/analysis"
	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/graph"
)

func funcCallEvent(id uuid.UUID, parent *uuid.UUID, ts time.Time, durationNs uint64) *event.Event {
	d := durationNs
	return &event.Event{
		ID:        id,
		TraceID:   uuid.New(),
		ParentID:  parent,
		Timestamp: ts,
		Kind:      event.FunctionCall{Name: "step"},
		Metadata:  event.Metadata{ThreadID: "t1", ServiceName: "svc", InstanceID: "i1", DurationNs: &d},
	}
}

// P7: cumulative duration never exceeds the sum of every event's own
// duration.
func TestCriticalPathBoundedBySumOfDurations(t *testing.T) {
	base := time.Now()
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	evA := funcCallEvent(a, nil, base, 10_000_000)
	evB := funcCallEvent(b, &a, base.Add(10*time.Millisecond), 20_000_000)
	evC := funcCallEvent(c, &b, base.Add(30*time.Millisecond), 5_000_000)

	events := []*event.Event{evA, evB, evC}
	g, err := graph.Build(events, nil)
	require.NoError(t, err)

	path, err := analysis.CriticalPathFor(g, events)
	require.NoError(t, err)

	var sum uint64
	for _, e := range events {
		sum += e.DurationNs()
	}
	assert.LessOrEqual(t, path.CumulativeNs, sum)
	assert.Equal(t, []uuid.UUID{a, b, c}, path.EventIDs)
	assert.EqualValues(t, 30_000_000, path.CumulativeNs)
}

func TestCriticalPathPicksLongestBranch(t *testing.T) {
	base := time.Now()
	root := uuid.New()
	shortLeaf := uuid.New()
	longBranch := uuid.New()
	longLeaf := uuid.New()

	evRoot := funcCallEvent(root, nil, base, 1_000_000)
	evShort := funcCallEvent(shortLeaf, &root, base.Add(time.Millisecond), 1_000_000)
	evLongBranch := funcCallEvent(longBranch, &root, base.Add(2*time.Millisecond), 50_000_000)
	evLongLeaf := funcCallEvent(longLeaf, &longBranch, base.Add(60*time.Millisecond), 1_000_000)

	events := []*event.Event{evRoot, evShort, evLongBranch, evLongLeaf}
	g, err := graph.Build(events, nil)
	require.NoError(t, err)

	path, err := analysis.CriticalPathFor(g, events)
	require.NoError(t, err)
	assert.Contains(t, path.EventIDs, longBranch)
	assert.Contains(t, path.EventIDs, longLeaf)
	assert.NotContains(t, path.EventIDs, shortLeaf)
}
