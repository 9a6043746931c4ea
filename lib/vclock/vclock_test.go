package vclock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrement(t *testing.T) {
	v := New()
	v = v.Increment("a")
	v = v.Increment("a")
	v = v.Increment("b")

	assert.Equal(t, uint64(2), v.Counter("a"))
	assert.Equal(t, uint64(1), v.Counter("b"))
	assert.Equal(t, uint64(0), v.Counter("c"))
}

func TestIncrementDoesNotMutateReceiver(t *testing.T) {
	v := New().Increment("a")
	w := v.Increment("a")

	assert.Equal(t, uint64(1), v.Counter("a"))
	assert.Equal(t, uint64(2), w.Counter("a"))
}

func TestIncrementKeepsSortedOrder(t *testing.T) {
	v := New()
	for _, id := range []string{"c", "a", "b", "a", "z", "b"} {
		v = v.Increment(id)
	}
	for i := 1; i < len(v); i++ {
		assert.Less(t, v[i-1].NodeID, v[i].NodeID)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Vector
		want Ordering
	}{
		{
			name: "both empty",
			a:    New(),
			b:    New(),
			want: Equal,
		},
		{
			name: "identical",
			a:    Vector{{"a", 1}, {"b", 2}},
			b:    Vector{{"a", 1}, {"b", 2}},
			want: Equal,
		},
		{
			name: "dominates on counter",
			a:    Vector{{"a", 2}, {"b", 2}},
			b:    Vector{{"a", 1}, {"b", 2}},
			want: Dominates,
		},
		{
			name: "dominates on extra entry",
			a:    Vector{{"a", 1}, {"b", 2}},
			b:    Vector{{"a", 1}},
			want: Dominates,
		},
		{
			name: "dominated",
			a:    Vector{{"a", 1}},
			b:    Vector{{"a", 1}, {"b", 1}},
			want: Dominated,
		},
		{
			name: "empty dominated by non-empty",
			a:    New(),
			b:    Vector{{"a", 1}},
			want: Dominated,
		},
		{
			name: "concurrent",
			a:    Vector{{"a", 2}, {"b", 1}},
			b:    Vector{{"a", 1}, {"b", 3}},
			want: Concurrent,
		},
		{
			name: "concurrent on disjoint nodes",
			a:    Vector{{"a", 1}},
			b:    Vector{{"b", 1}},
			want: Concurrent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))

			// The relation must be symmetric.
			switch tt.want {
			case Dominates:
				assert.Equal(t, Dominated, tt.b.Compare(tt.a))
			case Dominated:
				assert.Equal(t, Dominates, tt.b.Compare(tt.a))
			default:
				assert.Equal(t, tt.want, tt.b.Compare(tt.a))
			}
		})
	}
}

func TestMergeDominatesBothInputs(t *testing.T) {
	a := Vector{{"a", 2}, {"b", 1}}
	b := Vector{{"a", 1}, {"b", 3}, {"c", 1}}

	m := a.Merge(b)

	assert.True(t, m.Descends(a))
	assert.True(t, m.Descends(b))
	assert.Equal(t, Vector{{"a", 2}, {"b", 3}, {"c", 1}}, m)
}

func TestDescends(t *testing.T) {
	a := Vector{{"a", 2}, {"b", 1}}

	assert.True(t, a.Descends(a))
	assert.True(t, a.Descends(New()))
	assert.True(t, a.Descends(Vector{{"a", 1}}))
	assert.False(t, a.Descends(Vector{{"c", 1}}))
	assert.False(t, New().Descends(a))
}

func TestString(t *testing.T) {
	assert.Equal(t, "{}", New().String())
	assert.Equal(t, "{a:1, b:2}", Vector{{"a", 1}, {"b", 2}}.String())
}

func TestBinaryRoundTrip(t *testing.T) {
	vectors := []Vector{
		New(),
		{{"node-1", 1}},
		{{"a", 1}, {"b", 42}, {"node-with-long-name", 1 << 40}},
	}

	for _, v := range vectors {
		data, err := v.MarshalBinary()
		require.NoError(t, err)

		var got Vector
		require.NoError(t, got.UnmarshalBinary(data))
		assert.True(t, v.Equal(got), "want %s got %s", v, got)
	}
}

func TestUnmarshalEmptyAndTruncated(t *testing.T) {
	var v Vector
	require.NoError(t, v.UnmarshalBinary(nil))
	assert.Len(t, v, 0)

	assert.Error(t, v.UnmarshalBinary([]byte{0, 0}))
	assert.Error(t, v.UnmarshalBinary([]byte{0, 0, 0, 2, 0, 1, 'x'}))
}

func TestUnmarshalRejectsInflatedCount(t *testing.T) {
	// Header claims 100,000,000 entries but carries none. The decoder must
	// fail on the count itself instead of sizing a slice for it.
	data := []byte{0x05, 0xF5, 0xE1, 0x00, 0, 0, 0, 0}

	var v Vector
	assert.Error(t, v.UnmarshalBinary(data))
}
