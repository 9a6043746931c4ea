package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qkv-io/qkv/lib/engine"
	"github.com/qkv-io/qkv/lib/vclock"
)

func newTestEngine(t *testing.T) *Memory {
	t.Helper()
	m := New(&Options{NumShards: 4, TombstoneTTL: time.Hour, ReapInterval: time.Hour})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func put(t *testing.T, m *Memory, key, value string, vv vclock.Vector) engine.PutResult {
	t.Helper()
	res, err := m.Put(key, engine.Versioned{Value: []byte(value), Version: vv, Timestamp: time.Now().UnixMilli()})
	require.NoError(t, err)
	return res
}

func TestPutGet(t *testing.T) {
	m := newTestEngine(t)
	vv := vclock.New().Increment("a")

	res := put(t, m, "k", "v1", vv)
	assert.Equal(t, engine.PutApplied, res)

	siblings, ok, err := m.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, siblings, 1)
	assert.Equal(t, []byte("v1"), siblings[0].Value)
	assert.True(t, vv.Equal(siblings[0].Version))
}

func TestGetMissingKey(t *testing.T) {
	m := newTestEngine(t)
	_, ok, err := m.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDominatingWriteReplacesSiblings(t *testing.T) {
	m := newTestEngine(t)

	v1 := vclock.New().Increment("a")
	put(t, m, "k", "old", v1)

	v2 := v1.Increment("a")
	res := put(t, m, "k", "new", v2)
	assert.Equal(t, engine.PutApplied, res)

	siblings, _, err := m.Get("k")
	require.NoError(t, err)
	require.Len(t, siblings, 1)
	assert.Equal(t, []byte("new"), siblings[0].Value)
}

func TestStaleWriteRejected(t *testing.T) {
	m := newTestEngine(t)

	v1 := vclock.New().Increment("a")
	v2 := v1.Increment("a")
	put(t, m, "k", "new", v2)

	res := put(t, m, "k", "old", v1)
	assert.Equal(t, engine.PutStale, res)

	siblings, _, err := m.Get("k")
	require.NoError(t, err)
	require.Len(t, siblings, 1)
	assert.Equal(t, []byte("new"), siblings[0].Value)
}

func TestConcurrentWritesKeptAsSiblings(t *testing.T) {
	m := newTestEngine(t)

	put(t, m, "k", "from-a", vclock.New().Increment("a"))
	res := put(t, m, "k", "from-b", vclock.New().Increment("b"))
	assert.Equal(t, engine.PutApplied, res)

	siblings, _, err := m.Get("k")
	require.NoError(t, err)
	assert.Len(t, siblings, 2)
}

// Replaying the identical replica write must leave storage unchanged after
// the first application.
func TestIdempotentReplay(t *testing.T) {
	m := newTestEngine(t)
	vv := vclock.New().Increment("a")

	assert.Equal(t, engine.PutApplied, put(t, m, "k", "v", vv))
	assert.Equal(t, engine.PutDuplicate, put(t, m, "k", "v", vv))

	siblings, _, err := m.Get("k")
	require.NoError(t, err)
	assert.Len(t, siblings, 1)
	assert.Equal(t, 1, m.Len())
}

func TestTombstoneReaping(t *testing.T) {
	m := newTestEngine(t)

	// A tombstone written just now survives the sweep.
	vv := vclock.New().Increment("a")
	_, err := m.Put("fresh", engine.NewTombstone(vv))
	require.NoError(t, err)

	// An old tombstone past the TTL is reaped.
	_, err = m.Put("expired", engine.Versioned{
		Version:   vclock.New().Increment("b"),
		Tombstone: true,
		Timestamp: time.Now().Add(-2 * time.Hour).UnixMilli(),
	})
	require.NoError(t, err)

	// A live value is never reaped regardless of age.
	_, err = m.Put("live", engine.Versioned{
		Value:     []byte("v"),
		Version:   vclock.New().Increment("c"),
		Timestamp: time.Now().Add(-48 * time.Hour).UnixMilli(),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, m.ReapTombstones())

	_, ok, _ := m.Get("expired")
	assert.False(t, ok)
	_, ok, _ = m.Get("fresh")
	assert.True(t, ok)
	_, ok, _ = m.Get("live")
	assert.True(t, ok)
	assert.Equal(t, 2, m.Len())
}

func TestScanVisitsAllKeys(t *testing.T) {
	m := newTestEngine(t)
	for i := 0; i < 20; i++ {
		put(t, m, fmt.Sprintf("k%d", i), "v", vclock.New().Increment("a"))
	}

	seen := map[string]bool{}
	require.NoError(t, m.Scan(func(key string, siblings []engine.Versioned) bool {
		seen[key] = true
		return true
	}))
	assert.Len(t, seen, 20)

	// Early termination.
	count := 0
	require.NoError(t, m.Scan(func(string, []engine.Versioned) bool {
		count++
		return count < 5
	}))
	assert.Equal(t, 5, count)
}

func TestConcurrentAccess(t *testing.T) {
	m := newTestEngine(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			node := fmt.Sprintf("n%d", w)
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("k%d", i%10)
				v := engine.Versioned{Value: []byte("v"), Version: vclock.New().Increment(node)}
				if _, err := m.Put(key, v); err != nil {
					t.Error(err)
				}
				_, _, _ = m.Get(key)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 10, m.Len())
}
