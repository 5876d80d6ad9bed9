package analysis

import (
	"fmt"
	"sort"

	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/graph"
)

// temporalOverlapTolerance is the 1ms slack spec §4.5 step 6 allows when
// comparing two durationed events' intervals for overlap.
const temporalOverlapToleranceNs = int64(1_000_000)

// RaceOptions controls what DetectRaces reports.
type RaceOptions struct {
	// IncludeInfo reports INFO-severity (read/read) pairs. Suppressed by
	// default per spec §4.5 step 7.
	IncludeInfo bool
}

// DetectRaces runs the race-detection algorithm of spec §4.5 over every
// StateChange event in g, grouped by variable name.
func DetectRaces(g *graph.Graph, events []*event.Event, opts RaceOptions) []RaceCondition {
	groups := make(map[string][]*event.Event)
	for _, e := range events {
		if sc, ok := e.StateChange(); ok {
			groups[sc.Variable] = append(groups[sc.Variable], e)
		}
	}

	var races []RaceCondition
	for variable, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			if !group[i].Timestamp.Equal(group[j].Timestamp) {
				return group[i].Timestamp.Before(group[j].Timestamp)
			}
			return group[i].ID.String() < group[j].ID.String()
		})

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if rc, ok := evaluatePair(g, variable, a, b, opts); ok {
					races = append(races, rc)
				}
			}
		}
	}

	sort.Slice(races, func(i, j int) bool {
		if races[i].Variable != races[j].Variable {
			return races[i].Variable < races[j].Variable
		}
		return races[i].EventA.String() < races[j].EventA.String()
	})
	return races
}

func evaluatePair(g *graph.Graph, variable string, a, b *event.Event, opts RaceOptions) (RaceCondition, bool) {
	if a.Metadata.ThreadID == b.Metadata.ThreadID {
		return RaceCondition{}, false
	}

	scA, _ := a.StateChange()
	scB, _ := b.StateChange()

	writeA := scA.AccessType.IsWrite()
	writeB := scB.AccessType.IsWrite()
	if !writeA && !writeB {
		if !opts.IncludeInfo {
			return RaceCondition{}, false
		}
	}

	if a.LockSetIntersects(b) {
		return RaceCondition{}, false
	}

	if g.HappensBefore(a.ID, b.ID) || g.HappensBefore(b.ID, a.ID) {
		return RaceCondition{}, false
	}

	if a.HasDuration() && b.HasDuration() && !intervalsOverlap(a, b) {
		return RaceCondition{}, false
	}

	severity := classifySeverity(writeA, writeB, scA.AccessType.IsAtomic(), scB.AccessType.IsAtomic())
	if severity == RaceInfo && !opts.IncludeInfo {
		return RaceCondition{}, false
	}

	return RaceCondition{
		Severity:    severity,
		Variable:    variable,
		EventA:      a.ID,
		EventB:      b.ID,
		Description: describe(variable, a, b, severity),
	}, true
}

// classifySeverity applies spec §4.5 steps 7–8: a write/write pair is
// CRITICAL unless both writes are atomic, in which case it downgrades
// to WARNING since the hardware serializes them; a lone atomic write
// paired with a non-atomic write stays CRITICAL. A pair with exactly
// one write is WARNING, and a read/read pair is INFO.
func classifySeverity(writeA, writeB, atomicA, atomicB bool) RaceSeverity {
	switch {
	case writeA && writeB:
		if atomicA && atomicB {
			return RaceWarning
		}
		return RaceCritical
	case writeA || writeB:
		return RaceWarning
	default:
		return RaceInfo
	}
}

func intervalsOverlap(a, b *event.Event) bool {
	aStart := a.Timestamp.UnixNano()
	aEnd := aStart + int64(a.DurationNs())
	bStart := b.Timestamp.UnixNano()
	bEnd := bStart + int64(b.DurationNs())

	aStart -= temporalOverlapToleranceNs
	aEnd += temporalOverlapToleranceNs
	return aStart <= bEnd && bStart <= aEnd
}

func describe(variable string, a, b *event.Event, severity RaceSeverity) string {
	return fmt.Sprintf("%s race on %q between thread %s and thread %s",
		severity, variable, a.Metadata.ThreadID, b.Metadata.ThreadID)
}
