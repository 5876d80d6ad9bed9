package analysis

import (
	"github.com/google/uuid"

	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/graph"
)

// CriticalPathFor computes the longest-weighted path through g, per
// spec §4.5 "Critical-path analysis". Edge weight is the source event's
// duration_ns. Ties break on fewest edges, then earliest start.
func CriticalPathFor(g *graph.Graph, events []*event.Event) (CriticalPath, error) {
	if len(events) == 0 {
		return CriticalPath{}, nil
	}

	order, err := g.TopologicalSort()
	if err != nil {
		return CriticalPath{}, err
	}

	byID := make(map[uuid.UUID]*event.Event, len(events))
	var minTS, maxTS int64
	for i, e := range events {
		byID[e.ID] = e
		ts := e.Timestamp.UnixNano()
		if i == 0 || ts < minTS {
			minTS = ts
		}
		if i == 0 || ts > maxTS {
			maxTS = ts
		}
	}
	totalSpanNs := uint64(0)
	if maxTS > minTS {
		totalSpanNs = uint64(maxTS - minTS)
	}

	// bestFor[v] is the longest accumulated duration of any path ending
	// at v, where each traversed edge contributes its source event's
	// duration (spec §4.5: "edge weight = duration_ns of the source
	// event"). A node with no incoming edge starts its own path at 0.
	type best struct {
		duration uint64
		edges    int
		prev     uuid.UUID
		hasPrev  bool
	}
	bestFor := make(map[uuid.UUID]best, len(order))
	incoming := make(map[uuid.UUID][]graph.CausalEdge, len(order))
	for _, edge := range g.Edges() {
		incoming[edge.To] = append(incoming[edge.To], edge)
	}

	for _, id := range order {
		candidate := best{}
		for _, edge := range incoming[id] {
			fromBest, ok := bestFor[edge.From]
			if !ok {
				continue
			}
			total := fromBest.duration + byID[edge.From].DurationNs()
			edges := fromBest.edges + 1

			if total > candidate.duration ||
				(total == candidate.duration && edges < candidate.edges) {
				candidate = best{duration: total, edges: edges, prev: edge.From, hasPrev: true}
			}
		}
		bestFor[id] = candidate
	}

	var endID uuid.UUID
	var endBest best
	first := true
	for _, id := range order {
		b := bestFor[id]
		if first || b.duration > endBest.duration ||
			(b.duration == endBest.duration && b.edges < endBest.edges) ||
			(b.duration == endBest.duration && b.edges == endBest.edges && byID[id].Timestamp.Before(byID[endID].Timestamp)) {
			endID = id
			endBest = b
			first = false
		}
	}

	var path []uuid.UUID
	cur := endID
	total := endBest.duration
	for {
		path = append([]uuid.UUID{cur}, path...)
		b := bestFor[cur]
		if !b.hasPrev {
			break
		}
		cur = b.prev
	}

	var fraction float64
	if totalSpanNs > 0 {
		fraction = float64(total) / float64(totalSpanNs)
	}

	return CriticalPath{
		EventIDs:        path,
		CumulativeNs:    total,
		TotalSpanNs:     totalSpanNs,
		FractionOfTotal: fraction,
	}, nil
}
