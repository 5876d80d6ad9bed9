package analysis_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archtrace/raceway/internal/analysis"
	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/graph"
)

func stateChangeEvent(id uuid.UUID, ts time.Time, thread string, access event.AccessType, lockSet []string) *event.Event {
	return &event.Event{
		ID:        id,
		TraceID:   uuid.New(),
		Timestamp: ts,
		Kind: event.StateChange{
			Variable:   "alice.balance",
			OldValue:   json.RawMessage(`1000`),
			NewValue:   json.RawMessage(`900`),
			AccessType: access,
		},
		Metadata: event.Metadata{ThreadID: thread, ServiceName: "svc", InstanceID: "i1"},
		LockSet:  lockSet,
	}
}

// Seed scenario 1: classic lost-update.
func TestClassicLostUpdate(t *testing.T) {
	base := time.Now()
	e1 := stateChangeEvent(uuid.New(), base, "thread-1", event.AccessRead, nil)
	e2 := stateChangeEvent(uuid.New(), base.Add(time.Millisecond), "thread-2", event.AccessRead, nil)
	e3 := stateChangeEvent(uuid.New(), base.Add(2*time.Millisecond), "thread-1", event.AccessWrite, nil)
	e4 := stateChangeEvent(uuid.New(), base.Add(3*time.Millisecond), "thread-2", event.AccessWrite, nil)

	events := []*event.Event{e1, e2, e3, e4}
	g, err := graph.Build(events, nil)
	require.NoError(t, err)

	races := analysis.DetectRaces(g, events, analysis.RaceOptions{})

	var critical, warning int
	for _, r := range races {
		switch r.Severity {
		case analysis.RaceCritical:
			critical++
		case analysis.RaceWarning:
			warning++
		case analysis.RaceInfo:
			t.Fatalf("INFO race reported when IncludeInfo is false")
		}
	}
	assert.Equal(t, 1, critical, "expected exactly one CRITICAL race (E3<->E4)")
	assert.GreaterOrEqual(t, warning, 1, "expected at least one WARNING race")
}

// Seed scenario 2: lock-protected writes never race.
func TestLockProtectedWritesNeverRace(t *testing.T) {
	base := time.Now()
	e1 := stateChangeEvent(uuid.New(), base, "thread-1", event.AccessRead, nil)
	e2 := stateChangeEvent(uuid.New(), base.Add(time.Millisecond), "thread-2", event.AccessRead, nil)
	e3 := stateChangeEvent(uuid.New(), base.Add(2*time.Millisecond), "thread-1", event.AccessWrite, []string{"L1"})
	e4 := stateChangeEvent(uuid.New(), base.Add(3*time.Millisecond), "thread-2", event.AccessWrite, []string{"L1"})

	events := []*event.Event{e1, e2, e3, e4}
	g, err := graph.Build(events, nil)
	require.NoError(t, err)

	races := analysis.DetectRaces(g, events, analysis.RaceOptions{})
	for _, r := range races {
		assert.False(t, r.EventA == e3.ID && r.EventB == e4.ID, "lock-shared pair must not race")
		assert.False(t, r.EventA == e4.ID && r.EventB == e3.ID, "lock-shared pair must not race")
	}
}

// Seed scenario 3: happens-before suppression via parent link.
func TestHappensBeforeSuppressesRace(t *testing.T) {
	base := time.Now()
	idA := uuid.New()
	e1 := stateChangeEvent(idA, base, "thread-1", event.AccessWrite, nil)
	e2 := stateChangeEvent(uuid.New(), base.Add(time.Millisecond), "thread-2", event.AccessWrite, nil)
	e2.ParentID = &idA

	events := []*event.Event{e1, e2}
	g, err := graph.Build(events, nil)
	require.NoError(t, err)

	races := analysis.DetectRaces(g, events, analysis.RaceOptions{})
	assert.Empty(t, races)
}

// P3: race(a,b) must be symmetric regardless of argument order.
func TestRaceDetectionIsOrderIndependent(t *testing.T) {
	base := time.Now()
	e3 := stateChangeEvent(uuid.New(), base, "thread-1", event.AccessWrite, nil)
	e4 := stateChangeEvent(uuid.New(), base.Add(time.Millisecond), "thread-2", event.AccessWrite, nil)

	events := []*event.Event{e3, e4}
	g, err := graph.Build(events, nil)
	require.NoError(t, err)

	forward := analysis.DetectRaces(g, []*event.Event{e3, e4}, analysis.RaceOptions{})
	backward := analysis.DetectRaces(g, []*event.Event{e4, e3}, analysis.RaceOptions{})
	require.Len(t, forward, 1)
	require.Len(t, backward, 1)
	assert.Equal(t, forward[0].Severity, backward[0].Severity)
}
