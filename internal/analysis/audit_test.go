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

func TestAuditTrailFlagsRacyEntries(t *testing.T) {
	base := time.Now()
	e3 := stateChangeEvent(uuid.New(), base, "thread-1", event.AccessWrite, nil)
	e4 := stateChangeEvent(uuid.New(), base.Add(time.Millisecond), "thread-2", event.AccessWrite, nil)

	events := []*event.Event{e3, e4}
	g, err := graph.Build(events, nil)
	require.NoError(t, err)

	races := analysis.DetectRaces(g, events, analysis.RaceOptions{})
	require.Len(t, races, 1)

	trail := analysis.AuditTrail(g, events, "alice.balance", races)
	require.Len(t, trail, 2)
	assert.True(t, trail[0].IsRacy)
	assert.True(t, trail[1].IsRacy)
}

func TestAuditTrailOrdersByTimestamp(t *testing.T) {
	base := time.Now()
	e1 := stateChangeEvent(uuid.New(), base.Add(time.Second), "thread-1", event.AccessRead, nil)
	e2 := stateChangeEvent(uuid.New(), base, "thread-2", event.AccessRead, nil)

	events := []*event.Event{e1, e2}
	g, err := graph.Build(events, nil)
	require.NoError(t, err)

	trail := analysis.AuditTrail(g, events, "alice.balance", nil)
	require.Len(t, trail, 2)
	assert.Equal(t, e2.ID, trail[0].EventID)
	assert.Equal(t, e1.ID, trail[1].EventID)
}
