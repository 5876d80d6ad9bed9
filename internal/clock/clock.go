// Package clock implements vector clocks over component keys of the form
// "<service>#<instance>", used to track causal ordering between events
// emitted by different service instances.
package clock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Vector maps a component key to a monotonically increasing counter.
type Vector map[string]uint64

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for k, n := range v {
		out[k] = n
	}
	return out
}

// Merge returns the element-wise maximum of a and b: merge(a,b)[k] =
// max(a[k], b[k]) for every key present in either clock. Merge is
// commutative, associative, and idempotent.
func Merge(a, b Vector) Vector {
	out := make(Vector, len(a)+len(b))
	for k, n := range a {
		out[k] = n
	}
	for k, n := range b {
		if n > out[k] {
			out[k] = n
		}
	}
	return out
}

// Increment returns a copy of v with component key incremented by one,
// inserting it with counter 1 if absent.
func Increment(v Vector, key string) Vector {
	out := v.Clone()
	out[key]++
	return out
}

// HappensBefore reports whether a happens-before b: every component of a
// is <= the corresponding component of b, and at least one is strictly
// less. Missing keys are treated as zero.
func HappensBefore(a, b Vector) bool {
	strictlyLess := false
	for k, av := range a {
		if av > b[k] {
			return false
		}
		if av < b[k] {
			strictlyLess = true
		}
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok && bv > 0 {
			strictlyLess = true
		}
	}
	return strictlyLess
}

// Concurrent reports whether neither a happens-before b nor b
// happens-before a.
func Concurrent(a, b Vector) bool {
	return !HappensBefore(a, b) && !HappensBefore(b, a)
}

// Equal reports whether a and b carry identical counters for every key
// present in either.
func Equal(a, b Vector) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		if bv, ok := b[k]; !ok || bv != av {
			return false
		}
	}
	return true
}

// pair is the wire representation of one (component_key, counter) entry.
type pair struct {
	Key     string
	Counter uint64
}

// MarshalJSON emits the vector as an ordered array of [component_key,
// counter] pairs, sorted by key so that output is deterministic across
// runs even though the underlying map has no order.
func (v Vector) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		entry, err := json.Marshal([2]interface{}{k, v[k]})
		if err != nil {
			return nil, err
		}
		buf.Write(entry)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the [[key, counter], ...] wire form described in
// spec §6. Duplicate keys in the wire payload are rejected, since the
// vector is treated as a map with unique keys.
func (v *Vector) UnmarshalJSON(data []byte) error {
	var raw [][2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("causality_vector: %w", err)
	}
	out := make(Vector, len(raw))
	for _, entry := range raw {
		var key string
		if err := json.Unmarshal(entry[0], &key); err != nil {
			return fmt.Errorf("causality_vector: component key: %w", err)
		}
		var counter uint64
		if err := json.Unmarshal(entry[1], &counter); err != nil {
			return fmt.Errorf("causality_vector: counter for %q: %w", key, err)
		}
		if _, dup := out[key]; dup {
			return fmt.Errorf("causality_vector: duplicate component key %q", key)
		}
		out[key] = counter
	}
	*v = out
	return nil
}

// Bounded wraps a Vector with an eviction policy: once a clock exceeds
// maxComponents tracked keys, or a component has not advanced for
// longer than ttl, that component may be dropped. Eviction can only
// weaken an ordering to "concurrent" — per spec §4.2/§9, it must never
// invert a true happens-before relationship, because dropping a
// component can only remove information used by HappensBefore, never
// flip a comparison that was already decided by a surviving component.
type Bounded struct {
	mu            sync.Mutex
	vector        Vector
	touched       map[string]time.Time
	maxComponents int
	ttl           time.Duration
	now           func() time.Time
}

const (
	// DefaultMaxComponents is N_clock from spec §4.2.
	DefaultMaxComponents = 256
	// DefaultTTL is TTL_clock from spec §4.2.
	DefaultTTL = 15 * time.Minute
)

// NewBounded creates a Bounded clock with the given limits. A zero
// maxComponents or ttl falls back to the spec defaults.
func NewBounded(maxComponents int, ttl time.Duration) *Bounded {
	if maxComponents <= 0 {
		maxComponents = DefaultMaxComponents
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Bounded{
		vector:        make(Vector),
		touched:       make(map[string]time.Time),
		maxComponents: maxComponents,
		ttl:           ttl,
		now:           time.Now,
	}
}

// Increment advances key's counter (merging in incoming first, if given)
// and evicts stale or excess components per the bound. It returns the
// resulting vector as an independent copy safe for the caller to retain.
func (b *Bounded) Increment(incoming Vector, key string) Vector {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if incoming != nil {
		b.vector = Merge(b.vector, incoming)
		for k := range incoming {
			b.touched[k] = now
		}
	}
	b.vector[key]++
	b.touched[key] = now

	b.evictLocked(now)
	return b.vector.Clone()
}

// Snapshot returns a copy of the current vector without mutating it.
func (b *Bounded) Snapshot() Vector {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.vector.Clone()
}

func (b *Bounded) evictLocked(now time.Time) {
	for k, last := range b.touched {
		if k == "" {
			continue
		}
		if now.Sub(last) > b.ttl {
			delete(b.vector, k)
			delete(b.touched, k)
		}
	}
	if len(b.vector) <= b.maxComponents {
		return
	}
	// Evict the least-recently-touched components first until back
	// within budget.
	type kv struct {
		key  string
		last time.Time
	}
	stale := make([]kv, 0, len(b.touched))
	for k, last := range b.touched {
		stale = append(stale, kv{k, last})
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].last.Before(stale[j].last) })
	for _, s := range stale {
		if len(b.vector) <= b.maxComponents {
			break
		}
		delete(b.vector, s.key)
		delete(b.touched, s.key)
	}
}
