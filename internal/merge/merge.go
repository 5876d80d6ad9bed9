// Package merge assembles the cross-service event set for a trace by
// walking distributed spans reachable from a seed trace (spec §4.7).
package merge

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/storage"
)

// Result is the merged event and distributed-edge set for one trace,
// ready to be handed to internal/graph.Build.
type Result struct {
	Events []*event.Event
	Edges  []storage.DistributedEdge
	Spans  []storage.Span
}

// Merge walks distributed spans and edges reachable from traceID via
// BFS (spec §4.7). Since a distributed edge always preserves trace_id
// in this system, the BFS explores spans rather than traces and never
// leaves traceID.
func Merge(ctx context.Context, store storage.Storage, traceID uuid.UUID) (Result, error) {
	events, err := store.GetTraceEvents(ctx, traceID)
	if err != nil {
		return Result{}, err
	}
	spans, err := store.GetDistributedSpans(ctx, traceID)
	if err != nil {
		return Result{}, err
	}
	edges, err := store.GetDistributedEdges(ctx, traceID)
	if err != nil {
		return Result{}, err
	}

	reachable := make(map[uuid.UUID]bool, len(spans))
	for _, sp := range spans {
		reachable[sp.SpanID] = true
	}

	queue := make([]uuid.UUID, 0, len(spans))
	for _, sp := range spans {
		queue = append(queue, sp.SpanID)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range edges {
			if e.FromSpanID == cur && !reachable[e.ToSpanID] {
				reachable[e.ToSpanID] = true
				queue = append(queue, e.ToSpanID)
			}
			if e.ToSpanID == cur && !reachable[e.FromSpanID] {
				reachable[e.FromSpanID] = true
				queue = append(queue, e.FromSpanID)
			}
		}
	}

	var merged []*event.Event
	for _, e := range events {
		if e.Metadata.DistributedSpanID == nil || reachable[*e.Metadata.DistributedSpanID] {
			merged = append(merged, e)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Timestamp.Before(merged[j].Timestamp)
		}
		return merged[i].ID.String() < merged[j].ID.String()
	})

	return Result{Events: merged, Edges: edges, Spans: spans}, nil
}
