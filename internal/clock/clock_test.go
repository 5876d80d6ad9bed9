package clock_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archtrace/raceway/internal/clock"
)

func TestMergeCommutativeAssociativeIdempotent(t *testing.T) {
	a := clock.Vector{"svc1#i1": 2, "svc2#i1": 1}
	b := clock.Vector{"svc1#i1": 1, "svc3#i1": 4}
	c := clock.Vector{"svc2#i1": 5}

	ab := clock.Merge(a, b)
	ba := clock.Merge(b, a)
	assert.True(t, clock.Equal(ab, ba), "merge must be commutative")

	left := clock.Merge(clock.Merge(a, b), c)
	right := clock.Merge(a, clock.Merge(b, c))
	assert.True(t, clock.Equal(left, right), "merge must be associative")

	assert.True(t, clock.Equal(clock.Merge(a, a), a), "merge must be idempotent")
}

func TestHappensBeforeTransitive(t *testing.T) {
	a := clock.Vector{"s#1": 1}
	b := clock.Vector{"s#1": 2}
	c := clock.Vector{"s#1": 3}

	require.True(t, clock.HappensBefore(a, b))
	require.True(t, clock.HappensBefore(b, c))
	assert.True(t, clock.HappensBefore(a, c))
}

func TestConcurrentUnderMergeWithThirdClock(t *testing.T) {
	a := clock.Vector{"s1#1": 1, "s2#1": 0}
	b := clock.Vector{"s1#1": 0, "s2#1": 1}
	require.True(t, clock.Concurrent(a, b))

	third := clock.Vector{"s3#1": 9}
	ma := clock.Merge(a, third)
	mb := clock.Merge(b, third)
	assert.True(t, clock.Concurrent(ma, mb), "merging with an unrelated clock must not introduce an order")
}

func TestHappensBeforeIsStrict(t *testing.T) {
	a := clock.Vector{"s#1": 1}
	assert.False(t, clock.HappensBefore(a, a), "a clock never happens-before an identical clock")
}

func TestVectorJSONRoundTrip(t *testing.T) {
	v := clock.Vector{"svcA#i1": 3, "svcB#i2": 7}
	data, err := json.Marshal(v)
	require.NoError(t, err)

	var out clock.Vector
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, clock.Equal(v, out))
}

func TestVectorUnmarshalRejectsDuplicateKeys(t *testing.T) {
	var v clock.Vector
	err := json.Unmarshal([]byte(`[["svc#1",1],["svc#1",2]]`), &v)
	assert.Error(t, err)
}

func TestBoundedEvictsSilentComponentToConcurrency(t *testing.T) {
	now := time.Now()
	b := clock.NewBounded(clock.DefaultMaxComponents, 10*time.Millisecond)

	before := b.Increment(nil, "svcA#i1")
	_ = before
	time.Sleep(20 * time.Millisecond)
	after := b.Increment(nil, "svcB#i1")

	// svcA#i1 should have been evicted since it went silent past the TTL.
	_, present := after["svcA#i1"]
	assert.False(t, present)
	_ = now
}

func TestBoundedEvictsExcessComponentsByRecency(t *testing.T) {
	b := clock.NewBounded(2, time.Hour)
	b.Increment(nil, "a")
	b.Increment(nil, "b")
	snap := b.Increment(nil, "c")

	assert.LessOrEqual(t, len(snap), 2)
	_, hasC := snap["c"]
	assert.True(t, hasC, "the most recently touched component must survive eviction")
}
