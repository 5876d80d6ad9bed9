// Package graph builds the in-memory causal DAG over one merged trace's
// events (spec §4.4). A Graph is transient: built on demand for one
// query, discarded after the response.
package graph

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/archtrace/raceway/internal/clock"
	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/raceerr"
	"github.com/archtrace/raceway/internal/storage"
)

// EdgeKind classifies one CausalEdge.
type EdgeKind string

const (
	EdgeParent       EdgeKind = "Parent"
	EdgeDistributed  EdgeKind = "Distributed"
	EdgeClockOrdered EdgeKind = "ClockOrdered"
)

// CausalEdge is one directed edge of the graph.
type CausalEdge struct {
	From uuid.UUID
	To   uuid.UUID
	Kind EdgeKind
}

// CausalNode wraps one Event with graph-derived bookkeeping.
type CausalNode struct {
	Event    *event.Event
	InDegree int
	outEdges []uuid.UUID
}

// CyclicGraphError reports the events involved in a cycle detected
// during topological sort, so the caller can surface them to the client
// per spec §9 ("on violation, return the offending events").
type CyclicGraphError struct {
	Offending []uuid.UUID
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("graph: cycle detected among %d events", len(e.Offending))
}

// Unwrap lets errors.Is match a CyclicGraphError to raceerr.ErrCyclicGraph.
func (e *CyclicGraphError) Unwrap() error {
	return raceerr.ErrCyclicGraph
}

// Graph is the DAG built from Parent and Distributed edges over one
// event set. ClockOrdered is never materialized as an edge (spec §4.4):
// it is derived lazily by HappensBefore via clock comparison.
type Graph struct {
	nodes map[uuid.UUID]*CausalNode
	edges []CausalEdge
	order []uuid.UUID // insertion order, stable iteration
}

// Build assembles a Graph from events and the distributed edges that
// apply to them. Parent edges require both endpoints present in events;
// a parent_id referencing an event outside the set is simply not
// materialized (the parent may belong to a trace that wasn't merged in).
// Distributed edges resolve span_id to the earliest event of that span.
func Build(events []*event.Event, distEdges []storage.DistributedEdge) (*Graph, error) {
	g := &Graph{nodes: make(map[uuid.UUID]*CausalNode, len(events))}

	for _, e := range events {
		g.nodes[e.ID] = &CausalNode{Event: e}
		g.order = append(g.order, e.ID)
	}

	for _, e := range events {
		if e.ParentID == nil {
			continue
		}
		if _, ok := g.nodes[*e.ParentID]; !ok {
			continue
		}
		g.addEdge(*e.ParentID, e.ID, EdgeParent)
	}

	spanEarliest := earliestEventPerSpan(events)
	for _, de := range distEdges {
		from, fromOK := spanEarliest[de.FromSpanID]
		to, toOK := spanEarliest[de.ToSpanID]
		if !fromOK || !toOK {
			continue // dangling: resolved separately by the dependency analysis
		}
		g.addEdge(from, to, EdgeDistributed)
	}

	return g, nil
}

func earliestEventPerSpan(events []*event.Event) map[uuid.UUID]uuid.UUID {
	earliest := make(map[uuid.UUID]*event.Event)
	for _, e := range events {
		if e.Metadata.DistributedSpanID == nil {
			continue
		}
		spanID := *e.Metadata.DistributedSpanID
		cur, ok := earliest[spanID]
		if !ok || e.Timestamp.Before(cur.Timestamp) ||
			(e.Timestamp.Equal(cur.Timestamp) && e.ID.String() < cur.ID.String()) {
			earliest[spanID] = e
		}
	}
	out := make(map[uuid.UUID]uuid.UUID, len(earliest))
	for span, e := range earliest {
		out[span] = e.ID
	}
	return out
}

func (g *Graph) addEdge(from, to uuid.UUID, kind EdgeKind) {
	g.edges = append(g.edges, CausalEdge{From: from, To: to, Kind: kind})
	g.nodes[from].outEdges = append(g.nodes[from].outEdges, to)
	g.nodes[to].InDegree++
}

// Node returns the node for id, if present.
func (g *Graph) Node(id uuid.UUID) (*CausalNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of events in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Edges returns every materialized Parent/Distributed edge.
func (g *Graph) Edges() []CausalEdge {
	return g.edges
}

// TopologicalSort runs Kahn's algorithm over Parent∪Distributed edges,
// tie-breaking on (timestamp, event_id) per spec §4.4. It returns
// *CyclicGraphError naming the events left unvisited when a cycle
// prevents full traversal — a cycle in Parent/Distributed edges is a
// client bug per invariant I-E2.
func (g *Graph) TopologicalSort() ([]uuid.UUID, error) {
	inDegree := make(map[uuid.UUID]int, len(g.nodes))
	for id, n := range g.nodes {
		inDegree[id] = n.InDegree
	}

	ready := make([]uuid.UUID, 0, len(g.nodes))
	for id, d := range inDegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	g.sortByTimestampThenID(ready)

	var order []uuid.UUID
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var unlocked []uuid.UUID
		for _, to := range g.nodes[next].outEdges {
			inDegree[to]--
			if inDegree[to] == 0 {
				unlocked = append(unlocked, to)
			}
		}
		if len(unlocked) > 0 {
			g.sortByTimestampThenID(unlocked)
			ready = mergeSorted(ready, unlocked, g)
		}
	}

	if len(order) != len(g.nodes) {
		var offending []uuid.UUID
		for id, d := range inDegree {
			if d > 0 {
				offending = append(offending, id)
			}
		}
		return nil, &CyclicGraphError{Offending: offending}
	}
	return order, nil
}

func (g *Graph) sortByTimestampThenID(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return g.less(ids[i], ids[j])
	})
}

func (g *Graph) less(a, b uuid.UUID) bool {
	na, nb := g.nodes[a].Event, g.nodes[b].Event
	if !na.Timestamp.Equal(nb.Timestamp) {
		return na.Timestamp.Before(nb.Timestamp)
	}
	return na.ID.String() < nb.ID.String()
}

// mergeSorted inserts the sorted newlyReady slice into the sorted ready
// queue, keeping the whole queue in (timestamp, event_id) order.
func mergeSorted(ready, newlyReady []uuid.UUID, g *Graph) []uuid.UUID {
	merged := make([]uuid.UUID, 0, len(ready)+len(newlyReady))
	i, j := 0, 0
	for i < len(ready) && j < len(newlyReady) {
		if g.less(ready[i], newlyReady[j]) {
			merged = append(merged, ready[i])
			i++
		} else {
			merged = append(merged, newlyReady[j])
			j++
		}
	}
	merged = append(merged, ready[i:]...)
	merged = append(merged, newlyReady[j:]...)
	return merged
}

// HappensBefore reports whether e1 causally precedes e2: either a
// directed Parent/Distributed path connects them, or their vector
// clocks do (spec §4.4).
func (g *Graph) HappensBefore(e1, e2 uuid.UUID) bool {
	if e1 == e2 {
		return false
	}
	if g.reachable(e1, e2) {
		return true
	}
	n1, ok1 := g.nodes[e1]
	n2, ok2 := g.nodes[e2]
	if !ok1 || !ok2 {
		return false
	}
	return clock.HappensBefore(n1.Event.CausalityVector, n2.Event.CausalityVector)
}

// Concurrent reports whether neither happens-before holds between e1
// and e2.
func (g *Graph) Concurrent(e1, e2 uuid.UUID) bool {
	return !g.HappensBefore(e1, e2) && !g.HappensBefore(e2, e1)
}

func (g *Graph) reachable(from, to uuid.UUID) bool {
	visited := make(map[uuid.UUID]bool)
	queue := []uuid.UUID{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		n, ok := g.nodes[cur]
		if !ok {
			continue
		}
		queue = append(queue, n.outEdges...)
	}
	return false
}

// Ancestors returns every event reachable by following Parent/Distributed
// edges backwards from e.
func (g *Graph) Ancestors(e uuid.UUID) []uuid.UUID {
	reverse := g.reverseAdjacency()
	return g.bfsFrom(e, reverse)
}

// Descendants returns every event reachable by following Parent/
// Distributed edges forwards from e.
func (g *Graph) Descendants(e uuid.UUID) []uuid.UUID {
	forward := make(map[uuid.UUID][]uuid.UUID, len(g.nodes))
	for id, n := range g.nodes {
		forward[id] = n.outEdges
	}
	return g.bfsFrom(e, forward)
}

func (g *Graph) reverseAdjacency() map[uuid.UUID][]uuid.UUID {
	reverse := make(map[uuid.UUID][]uuid.UUID, len(g.nodes))
	for _, edge := range g.edges {
		reverse[edge.To] = append(reverse[edge.To], edge.From)
	}
	return reverse
}

func (g *Graph) bfsFrom(start uuid.UUID, adjacency map[uuid.UUID][]uuid.UUID) []uuid.UUID {
	visited := map[uuid.UUID]bool{start: true}
	queue := append([]uuid.UUID{}, adjacency[start]...)
	var out []uuid.UUID
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		out = append(out, cur)
		queue = append(queue, adjacency[cur]...)
	}
	return out
}
