package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qkv-io/qkv/lib/vclock"
)

func TestSiblingsCodecRoundTrip(t *testing.T) {
	in := []Versioned{
		{Value: []byte("hello"), Version: vclock.Vector{{NodeID: "a", Counter: 1}, {NodeID: "b", Counter: 2}}, Timestamp: 1234},
		{Version: vclock.Vector{{NodeID: "c", Counter: 7}}, Tombstone: true, Timestamp: 5678},
		{Value: []byte{}, Version: vclock.New(), Timestamp: 0},
	}

	data, err := MarshalSiblings(in)
	require.NoError(t, err)

	out, err := UnmarshalSiblings(data)
	require.NoError(t, err)
	require.Len(t, out, len(in))

	assert.Equal(t, []byte("hello"), out[0].Value)
	assert.True(t, in[0].Version.Equal(out[0].Version))
	assert.Equal(t, int64(1234), out[0].Timestamp)

	assert.True(t, out[1].Tombstone)
	assert.Nil(t, out[1].Value)
	assert.True(t, in[1].Version.Equal(out[1].Version))
}

func TestSiblingsCodecEmptyAndTruncated(t *testing.T) {
	out, err := UnmarshalSiblings(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	data, err := MarshalSiblings([]Versioned{{Value: []byte("x"), Version: vclock.Vector{{NodeID: "a", Counter: 1}}}})
	require.NoError(t, err)
	_, err = UnmarshalSiblings(data[:len(data)-2])
	assert.Error(t, err)
}

func TestUnmarshalSiblingsRejectsInflatedCount(t *testing.T) {
	// Header claims 100,000,000 siblings but carries none. The decoder must
	// fail on the count itself instead of sizing a slice for it.
	data := []byte{0x05, 0xF5, 0xE1, 0x00, 0, 0, 0, 0}

	_, err := UnmarshalSiblings(data)
	assert.Error(t, err)
}

func TestMergeSiblings(t *testing.T) {
	a1 := vclock.New().Increment("a")
	b1 := vclock.New().Increment("b")
	a2 := a1.Increment("a")

	set, res := MergeSiblings(nil, Versioned{Value: []byte("v1"), Version: a1})
	require.Equal(t, PutApplied, res)
	require.Len(t, set, 1)

	// Concurrent write joins the set.
	set, res = MergeSiblings(set, Versioned{Value: []byte("v2"), Version: b1})
	require.Equal(t, PutApplied, res)
	require.Len(t, set, 2)

	// A write dominating one sibling replaces it but keeps the other.
	set, res = MergeSiblings(set, Versioned{Value: []byte("v3"), Version: a2})
	require.Equal(t, PutApplied, res)
	require.Len(t, set, 2)

	// Dominated and duplicate writes leave the set untouched.
	_, res = MergeSiblings(set, Versioned{Value: []byte("old"), Version: a1})
	assert.Equal(t, PutStale, res)
	_, res = MergeSiblings(set, Versioned{Value: []byte("v3"), Version: a2})
	assert.Equal(t, PutDuplicate, res)
}
