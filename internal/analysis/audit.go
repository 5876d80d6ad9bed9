package analysis

import (
	"sort"

	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/graph"
)

// AuditTrail returns every StateChange event for variable in timestamp
// order, each annotated with whether it participates in a reported race
// (spec §4.5 "Audit trail").
func AuditTrail(g *graph.Graph, events []*event.Event, variable string, races []RaceCondition) []AuditEntry {
	racy := make(map[[2]string]bool, len(races))
	for _, r := range races {
		racy[[2]string{r.EventA.String(), r.EventB.String()}] = true
		racy[[2]string{r.EventB.String(), r.EventA.String()}] = true
	}

	var matching []*event.Event
	for _, e := range events {
		if sc, ok := e.StateChange(); ok && sc.Variable == variable {
			matching = append(matching, e)
		}
	}
	sort.Slice(matching, func(i, j int) bool {
		if !matching[i].Timestamp.Equal(matching[j].Timestamp) {
			return matching[i].Timestamp.Before(matching[j].Timestamp)
		}
		return matching[i].ID.String() < matching[j].ID.String()
	})

	entries := make([]AuditEntry, 0, len(matching))
	for _, e := range matching {
		sc, _ := e.StateChange()
		isRacy := false
		for _, other := range matching {
			if other.ID == e.ID {
				continue
			}
			if racy[[2]string{e.ID.String(), other.ID.String()}] {
				isRacy = true
				break
			}
		}
		entries = append(entries, AuditEntry{
			EventID:   e.ID,
			TraceID:   e.TraceID,
			ThreadID:  e.Metadata.ThreadID,
			Timestamp: e.Timestamp,
			OldValue:  sc.OldValue,
			NewValue:  sc.NewValue,
			IsRacy:    isRacy,
		})
	}
	return entries
}
