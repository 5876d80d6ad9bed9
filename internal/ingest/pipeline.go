// Package ingest implements the event-batch ingestion path of spec
// §4.6: validation, vector-clock computation, distributed span/edge
// upsert, persistence, and index maintenance.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/archtrace/raceway/internal/clock"
	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/raceerr"
	"github.com/archtrace/raceway/internal/storage"
	"github.com/archtrace/raceway/internal/telemetry"
)

// DefaultMaxInflight is MAX_INFLIGHT from spec §4.6.
const DefaultMaxInflight = 100_000

// Pipeline wires storage, the clock registry, and the back-pressure
// gate together. Ingest may be called concurrently; the in-flight
// counter is shared across all calls in progress.
type Pipeline struct {
	store       storage.Storage
	clocks      *ClockRegistry
	maxInflight int64
	inflight    int64
	metrics     *telemetry.Metrics
}

// New constructs a Pipeline backed by store. maxInflight of 0 uses
// DefaultMaxInflight.
func New(store storage.Storage, clocks *ClockRegistry, maxInflight int) *Pipeline {
	if maxInflight <= 0 {
		maxInflight = DefaultMaxInflight
	}
	return &Pipeline{store: store, clocks: clocks, maxInflight: int64(maxInflight)}
}

// WithMetrics attaches a metrics sink; events ingested are counted
// against it from then on. Returns p for chaining at construction time.
func (p *Pipeline) WithMetrics(m *telemetry.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// Result is the outcome of one Ingest call.
type Result struct {
	Ingested int
}

// Ingest runs the batch pipeline of spec §4.6 over events, in order.
// It returns raceerr.ErrBackpressure when admitting the batch would
// exceed the in-flight cap. Events are persisted through a single
// Storage.AddEventBatch call so that, per spec §4.3/§7, a storage
// failure partway through never leaves a prefix of the batch committed
// and the rest missing — callers only ever observe all-or-nothing.
func (p *Pipeline) Ingest(ctx context.Context, events []*event.Event) (Result, error) {
	n := int64(len(events))
	if atomic.AddInt64(&p.inflight, n) > p.maxInflight {
		atomic.AddInt64(&p.inflight, -n)
		return Result{}, raceerr.ErrBackpressure
	}
	defer atomic.AddInt64(&p.inflight, -n)

	now := time.Now()
	local := make(map[uuid.UUID]*event.Event, len(events))
	for _, e := range events {
		if err := p.prepareOne(ctx, e, local); err != nil {
			return Result{}, fmt.Errorf("prepare event %s: %w", e.ID, err)
		}
		local[e.ID] = e
	}

	if err := p.store.AddEventBatch(ctx, events, now); err != nil {
		return Result{}, fmt.Errorf("persist batch: %w", err)
	}

	for _, e := range events {
		if err := p.indexOne(ctx, e); err != nil {
			return Result{}, fmt.Errorf("index event %s: %w", e.ID, err)
		}
	}

	p.metrics.AddEventsIngested(ctx, n)
	return Result{Ingested: len(events)}, nil
}

// prepareOne upserts e's distributed span/edge and computes its vector
// clock, ahead of the batch's atomic persist. A parent within the same
// batch is resolved from local rather than storage, since it hasn't
// been persisted yet.
func (p *Pipeline) prepareOne(ctx context.Context, e *event.Event, local map[uuid.UUID]*event.Event) error {
	if e.Metadata.DistributedSpanID != nil {
		if err := p.store.UpsertDistributedSpan(ctx, storage.Span{
			TraceID:      e.TraceID,
			SpanID:       *e.Metadata.DistributedSpanID,
			Service:      e.Metadata.ServiceName,
			Instance:     e.Metadata.InstanceID,
			FirstEventTS: e.Timestamp,
		}); err != nil {
			return fmt.Errorf("upsert span: %w", err)
		}

		if e.Metadata.UpstreamSpanID != nil {
			if err := p.store.UpsertDistributedEdge(ctx, storage.DistributedEdge{
				TraceID:    e.TraceID,
				FromSpanID: *e.Metadata.UpstreamSpanID,
				ToSpanID:   *e.Metadata.DistributedSpanID,
				EdgeType:   edgeTypeFor(e.Kind),
			}); err != nil {
				return fmt.Errorf("upsert distributed edge: %w", err)
			}
		}
	}

	incoming := e.CausalityVector
	if e.ParentID != nil {
		if parent, ok := local[*e.ParentID]; ok {
			incoming = clock.Merge(incoming, parent.CausalityVector)
		} else {
			parent, err := p.store.GetEvent(ctx, *e.ParentID)
			if err == nil {
				incoming = clock.Merge(incoming, parent.CausalityVector)
			} else if !errors.Is(err, raceerr.ErrNotFound) {
				return fmt.Errorf("lookup parent clock: %w", err)
			}
		}
	}
	e.CausalityVector = p.clocks.Advance(e.Metadata.ComponentKey(), incoming)

	return nil
}

// indexOne updates the variable history index and latency baseline for
// e, run only after the batch's events are durably persisted.
func (p *Pipeline) indexOne(ctx context.Context, e *event.Event) error {
	if _, ok := e.StateChange(); ok {
		if err := p.store.IndexStateChange(ctx, e); err != nil {
			return fmt.Errorf("index state change: %w", err)
		}
	}

	if e.HasDuration() {
		if op, ok := e.OperationKey(); ok {
			if err := p.store.RecordBaseline(ctx, op, e.DurationNs()); err != nil {
				return fmt.Errorf("record baseline: %w", err)
			}
		}
	}

	return nil
}

func edgeTypeFor(k event.Kind) storage.EdgeType {
	switch k.(type) {
	case event.HttpRequest, event.HttpResponse:
		return storage.EdgeHttpCall
	default:
		return storage.EdgeGeneric
	}
}
