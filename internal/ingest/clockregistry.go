package ingest

import (
	"sync"
	"time"

	"github.com/archtrace/raceway/internal/clock"
)

// ClockRegistry holds one Bounded vector clock per emitting component
// ("service#instance"), so that the engine can apply the ingest-time
// clock update rule of spec §4.2 across the lifetime of the process.
// Per spec §5 ("vector-clock mutation is per-event-local; no global
// lock"), the registry map itself is guarded only long enough to fetch
// or create a component's clock; the clock's own mutation is
// independent per component.
type ClockRegistry struct {
	mu             sync.RWMutex
	clocks         map[string]*clock.Bounded
	maxComponents  int
	ttl            time.Duration
}

// NewClockRegistry creates a registry whose per-component clocks use
// the given bounds (spec §4.2 N_clock/TTL_clock). Zero values fall back
// to the package defaults.
func NewClockRegistry(maxComponents int, ttl time.Duration) *ClockRegistry {
	return &ClockRegistry{
		clocks:        make(map[string]*clock.Bounded),
		maxComponents: maxComponents,
		ttl:           ttl,
	}
}

func (r *ClockRegistry) clockFor(componentKey string) *clock.Bounded {
	r.mu.RLock()
	c, ok := r.clocks[componentKey]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clocks[componentKey]; ok {
		return c
	}
	c = clock.NewBounded(r.maxComponents, r.ttl)
	r.clocks[componentKey] = c
	return c
}

// Advance applies the spec §4.2 update rule for one event: merge
// incoming (the propagated C_in, plus the parent's stored clock when
// known) into the emitting component's running clock, then increment
// that component's own counter.
func (r *ClockRegistry) Advance(componentKey string, incoming clock.Vector) clock.Vector {
	return r.clockFor(componentKey).Increment(incoming, componentKey)
}
