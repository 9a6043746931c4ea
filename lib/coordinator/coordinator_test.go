package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/qkv-io/qkv/lib/engine"
	"github.com/qkv-io/qkv/lib/engine/memory"
	"github.com/qkv-io/qkv/lib/hints"
	"github.com/qkv-io/qkv/lib/resolver"
	"github.com/qkv-io/qkv/lib/ring"
	"github.com/qkv-io/qkv/lib/vclock"
)

// fakeCluster implements IReplicaClient against per-node in-memory engines.
// Individual nodes can be failed, hung or made to report a diverged ring.
type fakeCluster struct {
	mu          sync.Mutex
	engines     map[string]*memory.Memory
	down        map[string]bool
	hang        map[string]bool
	ringChanged map[string]int // remaining ErrRingChanged answers per node
}

func newFakeCluster(nodeIDs ...string) *fakeCluster {
	f := &fakeCluster{
		engines:     make(map[string]*memory.Memory),
		down:        make(map[string]bool),
		hang:        make(map[string]bool),
		ringChanged: make(map[string]int),
	}
	for _, id := range nodeIDs {
		f.engines[id] = memory.New(nil)
	}
	return f
}

func (f *fakeCluster) gate(ctx context.Context, nodeID string) error {
	f.mu.Lock()
	if f.ringChanged[nodeID] > 0 {
		f.ringChanged[nodeID]--
		f.mu.Unlock()
		return ErrRingChanged
	}
	down, hang := f.down[nodeID], f.hang[nodeID]
	f.mu.Unlock()

	if down {
		return assert.AnError
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeCluster) ReplicaWrite(ctx context.Context, node ring.Node, key string, v engine.Versioned, repair bool) (engine.PutResult, error) {
	if err := f.gate(ctx, node.ID); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[node.ID].Put(key, v)
}

func (f *fakeCluster) ReplicaRead(ctx context.Context, node ring.Node, key string) ([]engine.Versioned, bool, error) {
	if err := f.gate(ctx, node.ID); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	siblings, found, err := f.engines[node.ID].Get(key)
	return siblings, found, err
}

func (f *fakeCluster) setDown(nodeID string, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[nodeID] = down
}

func (f *fakeCluster) setHang(nodeID string, hang bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang[nodeID] = hang
}

func (f *fakeCluster) setRingChanged(nodeID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ringChanged[nodeID] = n
}

func (f *fakeCluster) has(nodeID, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, found, _ := f.engines[nodeID].Get(key)
	return found
}

// testSetup wires a three-node ring, a fake cluster and one coordinator.
func testSetup(t *testing.T, cfg Config) (*Coordinator, *fakeCluster, *hints.Queue) {
	t.Helper()

	r := ring.New()
	for _, id := range []string{"node-a", "node-b", "node-c"} {
		require.NoError(t, r.AddNode(ring.Node{ID: id, Addr: id + ":4000", State: ring.StateAlive}, 16))
	}

	cluster := newFakeCluster("node-a", "node-b", "node-c")
	queue := hints.New(nil)

	if cfg.LocalID == "" {
		cfg.LocalID = "node-a"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 200 * time.Millisecond
	}

	coord, err := New(cfg, r, cluster, queue)
	require.NoError(t, err)
	return coord, cluster, queue
}

func TestConfigValidation(t *testing.T) {
	r := ring.New()
	queue := hints.New(nil)

	cases := []Config{
		{LocalID: "", N: 3, W: 2, R: 2, Timeout: time.Second},
		{LocalID: "a", N: 0, W: 1, R: 1, Timeout: time.Second},
		{LocalID: "a", N: 3, W: 4, R: 2, Timeout: time.Second},
		{LocalID: "a", N: 3, W: 0, R: 2, Timeout: time.Second},
		{LocalID: "a", N: 3, W: 2, R: 5, Timeout: time.Second},
		{LocalID: "a", N: 3, W: 2, R: 2, Timeout: 0},
	}
	for _, cfg := range cases {
		_, err := New(cfg, r, newFakeCluster(), queue)
		assert.Error(t, err, "config %+v should be rejected", cfg)
	}
}

func TestWriteAndRead(t *testing.T) {
	coord, _, _ := testSetup(t, Config{N: 3, W: 2, R: 2})

	vec, err := coord.Write(context.Background(), "greeting", []byte("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), vec.Counter("node-a"))

	result, err := coord.Read(context.Background(), "greeting")
	require.NoError(t, err)
	require.Len(t, result.Siblings, 1)
	assert.Equal(t, []byte("hello"), result.Siblings[0].Value)
	assert.False(t, result.NotFound())
}

func TestReadYourWritesWithOneReplicaDown(t *testing.T) {
	// R+W > N: the read quorum intersects the write quorum even when one
	// replica never saw the write.
	coord, cluster, _ := testSetup(t, Config{N: 3, W: 2, R: 2})

	// Find a replica for the key and take it down.
	victim := victimFor(t, coord, "account")
	cluster.setDown(victim, true)

	vec, err := coord.Write(context.Background(), "account", []byte("42"), nil)
	require.NoError(t, err)
	require.NotEmpty(t, vec)

	result, err := coord.Read(context.Background(), "account")
	require.NoError(t, err)
	require.Len(t, result.Siblings, 1)
	assert.Equal(t, []byte("42"), result.Siblings[0].Value)
}

func TestWriteInsufficientQuorum(t *testing.T) {
	coord, cluster, _ := testSetup(t, Config{N: 3, W: 2, R: 2})

	replicas := replicasFor(coord, "stuck")
	cluster.setDown(replicas[0], true)
	cluster.setDown(replicas[1], true)

	_, err := coord.Write(context.Background(), "stuck", []byte("x"), nil)
	require.Error(t, err)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, RetCInsufficientQuorum, code)
}

func TestWriteTimeout(t *testing.T) {
	coord, cluster, _ := testSetup(t, Config{N: 3, W: 2, R: 2, Timeout: 50 * time.Millisecond})

	for _, id := range replicasFor(coord, "tarpit") {
		cluster.setHang(id, true)
	}

	_, err := coord.Write(context.Background(), "tarpit", []byte("x"), nil)
	require.Error(t, err)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, RetCTimeout, code)
}

func TestFailedReplicaGetsHint(t *testing.T) {
	coord, cluster, queue := testSetup(t, Config{N: 3, W: 2, R: 2})

	victim := victimFor(t, coord, "hinted")
	cluster.setDown(victim, true)

	_, err := coord.Write(context.Background(), "hinted", []byte("v"), nil)
	require.NoError(t, err)

	// The failing replica may be a straggler drained after the write
	// returned, so poll.
	assert.Eventually(t, func() bool {
		return queue.Pending(victim) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestReadRepairsStaleReplica(t *testing.T) {
	coord, cluster, _ := testSetup(t, Config{N: 3, W: 2, R: 3})

	// Write while one replica is down, then revive it. The revived replica
	// misses the key until a read repairs it.
	victim := victimFor(t, coord, "repairme")
	cluster.setDown(victim, true)

	_, err := coord.Write(context.Background(), "repairme", []byte("fresh"), nil)
	require.NoError(t, err)
	// Let straggler writes against the downed replica finish failing.
	time.Sleep(50 * time.Millisecond)
	cluster.setDown(victim, false)
	require.False(t, cluster.has(victim, "repairme"))

	// R=3 forces an answer from the revived replica. Its not-found marks it
	// missing and triggers repair.
	_, err = coord.Read(context.Background(), "repairme")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return cluster.has(victim, "repairme")
	}, time.Second, 10*time.Millisecond)
}

func TestConcurrentWritesCreateSiblings(t *testing.T) {
	coordA, cluster, queue := testSetup(t, Config{N: 3, W: 3, R: 3, LocalID: "node-a"})

	// Second coordinator on another node, same replica set.
	coordB, err := New(Config{LocalID: "node-b", N: 3, W: 3, R: 3, Timeout: 200 * time.Millisecond},
		coordA.ring, cluster, queue)
	require.NoError(t, err)

	// Both write blind (empty context): causally concurrent versions.
	_, err = coordA.Write(context.Background(), "cart", []byte("apples"), nil)
	require.NoError(t, err)
	_, err = coordB.Write(context.Background(), "cart", []byte("oranges"), nil)
	require.NoError(t, err)

	result, err := coordA.Read(context.Background(), "cart")
	require.NoError(t, err)
	require.Len(t, result.Siblings, 2)
	assert.True(t, result.HasConflict())

	// A write that merges both sibling vectors resolves the conflict.
	merged := resolver.Merged([]resolver.Version{
		{Versioned: result.Siblings[0]},
		{Versioned: result.Siblings[1]},
	})
	_, err = coordA.Write(context.Background(), "cart", []byte("apples+oranges"), merged)
	require.NoError(t, err)

	result, err = coordA.Read(context.Background(), "cart")
	require.NoError(t, err)
	require.Len(t, result.Siblings, 1)
	assert.Equal(t, []byte("apples+oranges"), result.Siblings[0].Value)
}

func TestStaleContextRejected(t *testing.T) {
	coord, _, _ := testSetup(t, Config{N: 3, W: 3, R: 3})

	_, err := coord.Write(context.Background(), "doc", []byte("v1"), nil)
	require.NoError(t, err)
	vec, err := coord.Write(context.Background(), "doc", []byte("v2"), vclock.Vector{{NodeID: "node-a", Counter: 1}})
	require.NoError(t, err)
	require.Equal(t, uint64(2), vec.Counter("node-a"))

	// Writing with an empty context now produces {node-a:1}, dominated by
	// the stored {node-a:2} on every replica.
	_, err = coord.Write(context.Background(), "doc", []byte("zombie"), nil)
	require.Error(t, err)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, RetCStaleWriteRejected, code)
}

func TestDeleteHidesKey(t *testing.T) {
	coord, _, _ := testSetup(t, Config{N: 3, W: 2, R: 2})

	vec, err := coord.Write(context.Background(), "ephemeral", []byte("soon gone"), nil)
	require.NoError(t, err)

	_, err = coord.Delete(context.Background(), "ephemeral", vec)
	require.NoError(t, err)

	result, err := coord.Read(context.Background(), "ephemeral")
	require.NoError(t, err)
	assert.True(t, result.NotFound())
}

func TestRingChangedRetriesOnce(t *testing.T) {
	coord, cluster, _ := testSetup(t, Config{N: 3, W: 2, R: 2})

	// First answer from one replica reports a diverged ring; the retry
	// succeeds.
	victim := victimFor(t, coord, "epoch")
	cluster.setRingChanged(victim, 1)

	_, err := coord.Write(context.Background(), "epoch", []byte("x"), nil)
	require.NoError(t, err)
}

func TestRingChangedPersistentFails(t *testing.T) {
	coord, cluster, _ := testSetup(t, Config{N: 3, W: 2, R: 2})

	for _, id := range replicasFor(coord, "epoch2") {
		cluster.setRingChanged(id, 100)
	}

	_, err := coord.Write(context.Background(), "epoch2", []byte("x"), nil)
	require.Error(t, err)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, RetCRingInconsistent, code)
}

// replicasFor returns the replica node IDs the coordinator would use.
func replicasFor(coord *Coordinator, key string) []string {
	nodes := coord.ring.ReplicasFor(key, coord.cfg.N)
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// victimFor picks one non-coordinating replica of the key.
func victimFor(t *testing.T, coord *Coordinator, key string) string {
	t.Helper()
	for _, id := range replicasFor(coord, key) {
		if id != coord.cfg.LocalID {
			return id
		}
	}
	t.Fatal("no non-local replica found")
	return ""
}
