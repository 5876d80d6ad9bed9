package analysis

import (
	"sort"

	"github.com/google/uuid"

	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/storage"
)

// ServiceDependencies collapses distributed edges into (from_service,
// to_service, call_count) tuples, flagging edges whose upstream span
// could not be resolved as dangling (spec §4.5 "Service dependencies").
func ServiceDependencies(events []*event.Event, spans []storage.Span, edges []storage.DistributedEdge) []ServiceDependency {
	serviceBySpan := make(map[uuid.UUID]string, len(spans))
	for _, sp := range spans {
		serviceBySpan[sp.SpanID] = sp.Service
	}

	type key struct{ from, to string }
	counts := make(map[key]int)
	dangling := make(map[key]bool)

	for _, de := range edges {
		fromService, fromOK := serviceBySpan[de.FromSpanID]
		toService, toOK := serviceBySpan[de.ToSpanID]
		k := key{from: fromService, to: toService}
		if !fromOK || !toOK {
			k = key{from: fallback(fromService, fromOK), to: fallback(toService, toOK)}
			dangling[k] = true
		}
		counts[k]++
	}

	// An event carrying an upstream_span_id that never resolves to a
	// DistributedSpan also marks its edge dangling, even when no
	// DistributedEdge row exists for it yet.
	for _, e := range events {
		if e.Metadata.UpstreamSpanID == nil {
			continue
		}
		if _, ok := serviceBySpan[*e.Metadata.UpstreamSpanID]; ok {
			continue
		}
		var toService string
		if e.Metadata.DistributedSpanID != nil {
			toService = serviceBySpan[*e.Metadata.DistributedSpanID]
		}
		k := key{from: "<unresolved>", to: toService}
		dangling[k] = true
		if counts[k] == 0 {
			counts[k] = 1
		}
	}

	out := make([]ServiceDependency, 0, len(counts))
	for k, count := range counts {
		out = append(out, ServiceDependency{
			FromService: k.from,
			ToService:   k.to,
			CallCount:   count,
			Dangling:    dangling[k],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FromService != out[j].FromService {
			return out[i].FromService < out[j].FromService
		}
		return out[i].ToService < out[j].ToService
	})
	return out
}

func fallback(service string, ok bool) string {
	if ok {
		return service
	}
	return "<unresolved>"
}
