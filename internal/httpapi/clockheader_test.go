package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archtrace/raceway/internal/clock"
)

func TestClockHeaderRoundTrips(t *testing.T) {
	h := raceClockHeader{
		TraceID: "t1",
		SpanID:  "s1",
		Service: "svc-a",
		Clock:   clock.Vector{"svc-a#i1": 3, "svc-b#i1": 1},
	}

	wire, err := EncodeClockHeader(h)
	require.NoError(t, err)
	assert.True(t, len(wire) > 3 && wire[:3] == "v1;")

	decoded, ok, err := DecodeClockHeader(wire)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, h, decoded)
}

func TestDecodeClockHeaderIgnoresUnknownVersion(t *testing.T) {
	_, ok, err := DecodeClockHeader("v99;whatever")
	require.NoError(t, err)
	assert.False(t, ok)
}
