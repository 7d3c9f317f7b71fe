package hashrange

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint64RoundTrip(t *testing.T) {
	v := NewUint64HashRange(123456789)
	b, err := v.MarshalJSON()
	require.NoError(t, err, "MarshalJSON")

	var back Uint64HashRange
	require.NoError(t, back.UnmarshalJSON(b), "UnmarshalJSON")
	require.Equal(t, *v, back)
}

func TestUint64NextDoesNotWrap(t *testing.T) {
	max := NewUint64HashRange(math.MaxUint64)
	require.True(t, max.IsEnd(), "MaxUint64 must be the terminal value")
	require.Equal(t, max, max.Next(), "Next() at the end must not wrap")
}

func TestUint64Ordering(t *testing.T) {
	a := NewUint64HashRange(1)
	b := NewUint64HashRange(2)
	require.Negative(t, a.Compare(b))
	require.Positive(t, b.Compare(a))
	require.Zero(t, a.Compare(a))
}

func TestHashDeterministic(t *testing.T) {
	h1 := Hash([]byte("clusterlib"))
	h2 := Hash([]byte("clusterlib"))
	require.Equal(t, h1, h2, "hash must be deterministic")

	h3 := Hash([]byte("other"))
	require.NotEqual(t, h1, h3)
}

func TestEmptyUnknownType(t *testing.T) {
	hr := Empty("some-future-type")
	_, ok := hr.(*UnknownHashRange)
	require.True(t, ok)

	raw := json.RawMessage(`{"custom":"payload"}`)
	require.NoError(t, hr.UnmarshalJSON(raw))
	out, err := hr.MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, string(raw), string(out))
}
