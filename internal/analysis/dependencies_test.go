package analysis_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archtrace/raceway/internal/analysis"
	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/storage"
)

// Seed scenario 4: four-service chain collapses to a dependency graph
// spanning all services.
func TestServiceDependenciesFourServiceChain(t *testing.T) {
	traceID := uuid.New()
	services := []string{"ts", "py", "go", "rust"}
	spans := make([]storage.Span, len(services))
	ids := make([]uuid.UUID, len(services))
	now := time.Now()
	for i, svc := range services {
		ids[i] = uuid.New()
		spans[i] = storage.Span{TraceID: traceID, SpanID: ids[i], Service: svc, Instance: "i1", FirstEventTS: now.Add(time.Duration(i) * time.Second)}
	}

	var edges []storage.DistributedEdge
	for i := 0; i < len(ids)-1; i++ {
		edges = append(edges, storage.DistributedEdge{
			TraceID: traceID, FromSpanID: ids[i], ToSpanID: ids[i+1], EdgeType: storage.EdgeHttpCall,
		})
	}

	deps := analysis.ServiceDependencies(nil, spans, edges)
	require.Len(t, deps, 3)
	// Sorted by FromService then ToService: go->rust sorts first.
	assert.Equal(t, "go", deps[0].FromService)
	assert.Equal(t, "rust", deps[0].ToService)
	for _, d := range deps {
		assert.False(t, d.Dangling)
		assert.Equal(t, 1, d.CallCount)
	}
}

func TestServiceDependenciesFlagsDanglingUpstream(t *testing.T) {
	traceID := uuid.New()
	knownSpan := uuid.New()
	missingUpstream := uuid.New()

	spans := []storage.Span{
		{TraceID: traceID, SpanID: knownSpan, Service: "go", Instance: "i1", FirstEventTS: time.Now()},
	}
	e := &event.Event{
		ID:        uuid.New(),
		TraceID:   traceID,
		Timestamp: time.Now(),
		Kind:      event.Custom{Name: "noop"},
		Metadata: event.Metadata{
			ThreadID: "t1", ServiceName: "go", InstanceID: "i1",
			DistributedSpanID: &knownSpan, UpstreamSpanID: &missingUpstream,
		},
	}

	deps := analysis.ServiceDependencies([]*event.Event{e}, spans, nil)
	require.Len(t, deps, 1)
	assert.True(t, deps[0].Dangling)
}
