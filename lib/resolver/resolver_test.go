package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qkv-io/qkv/lib/engine"
	"github.com/qkv-io/qkv/lib/vclock"
)

func version(replica, value string, ts int64, vv vclock.Vector) Version {
	return Version{
		ReplicaID: replica,
		Versioned: engine.Versioned{Value: []byte(value), Version: vv, Timestamp: ts},
	}
}

func TestResolveSingleVersion(t *testing.T) {
	vv := vclock.New().Increment("a")
	res := Resolve(SiblingPreserving, []Version{version("r1", "v", 1, vv)}, nil)

	require.Len(t, res.Siblings, 1)
	assert.False(t, res.HasConflict())
	assert.Empty(t, res.Stale)
	assert.False(t, res.NotFound())
}

func TestResolveDiscardsDominated(t *testing.T) {
	v1 := vclock.New().Increment("a")
	v2 := v1.Increment("a")

	res := Resolve(SiblingPreserving, []Version{
		version("r1", "old", 1, v1),
		version("r2", "new", 2, v2),
	}, nil)

	require.Len(t, res.Siblings, 1)
	assert.Equal(t, []byte("new"), res.Siblings[0].Value)

	// The replica holding the dominated version is marked for repair.
	require.Contains(t, res.Stale, "r1")
	assert.Equal(t, []byte("old"), res.Stale["r1"].Value)
}

// Two concurrent writes with unrelated vectors always produce a sibling set
// of size two, never silent data loss.
func TestResolveSurfacesConcurrentSiblings(t *testing.T) {
	res := Resolve(SiblingPreserving, []Version{
		version("r1", "a", 1, vclock.New().Increment("n1")),
		version("r2", "b", 2, vclock.New().Increment("n2")),
	}, nil)

	assert.Len(t, res.Siblings, 2)
	assert.True(t, res.HasConflict())
	assert.Empty(t, res.Stale)
}

func TestResolveDedupesEqualVersions(t *testing.T) {
	vv := vclock.New().Increment("a")
	res := Resolve(SiblingPreserving, []Version{
		version("r1", "v", 1, vv),
		version("r2", "v", 1, vv),
		version("r3", "v", 1, vv),
	}, nil)

	assert.Len(t, res.Siblings, 1)
	// Equal copies are in sync; nothing to repair.
	assert.Empty(t, res.Stale)
}

func TestResolveLastWriteWins(t *testing.T) {
	res := Resolve(LastWriteWins, []Version{
		version("r1", "older", 100, vclock.New().Increment("n1")),
		version("r2", "newer", 200, vclock.New().Increment("n2")),
	}, nil)

	require.Len(t, res.Siblings, 1)
	assert.Equal(t, []byte("newer"), res.Siblings[0].Value)
}

func TestResolveLastWriteWinsDeterministicTiebreak(t *testing.T) {
	a := version("r1", "a", 100, vclock.New().Increment("n1"))
	b := version("r2", "b", 100, vclock.New().Increment("n2"))

	first := Resolve(LastWriteWins, []Version{a, b}, nil)
	second := Resolve(LastWriteWins, []Version{b, a}, nil)

	require.Len(t, first.Siblings, 1)
	require.Len(t, second.Siblings, 1)
	assert.Equal(t, first.Siblings[0].Value, second.Siblings[0].Value)
}

func TestResolveTombstonesMeanNotFound(t *testing.T) {
	res := Resolve(SiblingPreserving, []Version{{
		ReplicaID: "r1",
		Versioned: engine.Versioned{Version: vclock.New().Increment("a"), Tombstone: true},
	}}, nil)

	assert.True(t, res.NotFound())
	assert.Len(t, res.Siblings, 1)
}

func TestResolveEmpty(t *testing.T) {
	res := Resolve(SiblingPreserving, nil, []string{"r1", "r2"})
	assert.True(t, res.NotFound())
	assert.Empty(t, res.Siblings)
	assert.Equal(t, []string{"r1", "r2"}, res.Missing)
}

func TestMerged(t *testing.T) {
	m := Merged([]Version{
		version("r1", "a", 1, vclock.Vector{{NodeID: "a", Counter: 2}, {NodeID: "b", Counter: 1}}),
		version("r2", "b", 2, vclock.Vector{{NodeID: "b", Counter: 3}, {NodeID: "c", Counter: 1}}),
	})
	assert.Equal(t, vclock.Vector{{NodeID: "a", Counter: 2}, {NodeID: "b", Counter: 3}, {NodeID: "c", Counter: 1}}, m)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("lww")
	require.NoError(t, err)
	assert.Equal(t, LastWriteWins, m)

	m, err = ParseMode("sibling-preserving")
	require.NoError(t, err)
	assert.Equal(t, SiblingPreserving, m)

	_, err = ParseMode("bogus")
	assert.Error(t, err)
}
