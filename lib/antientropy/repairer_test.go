package antientropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/qkv-io/qkv/lib/engine"
	"github.com/qkv-io/qkv/lib/engine/memory"
	"github.com/qkv-io/qkv/lib/hints"
	"github.com/qkv-io/qkv/lib/membership"
	"github.com/qkv-io/qkv/lib/ring"
	"github.com/qkv-io/qkv/lib/vclock"
)

// staticStatus is a fixed liveness view.
type staticStatus map[string]membership.Status

func (s staticStatus) Status(id string) membership.Status {
	if st, ok := s[id]; ok {
		return st
	}
	return membership.Dead
}

// enginePeer implements IPeerClient directly against another node's engine
// and repairer, skipping the wire.
type enginePeer struct {
	eng    engine.Engine
	remote *Repairer
	fail   bool
}

func (p *enginePeer) RangeDigest(node ring.Node, start, end, digest uint64) (bool, error) {
	if p.fail {
		return false, assert.AnError
	}
	d, err := p.remote.LocalRootDigest(ring.TokenRange{Start: start, End: end})
	if err != nil {
		return false, err
	}
	return d == digest, nil
}

func (p *enginePeer) RangeKeys(node ring.Node, start, end uint64) ([]KeyDigest, error) {
	if p.fail {
		return nil, assert.AnError
	}
	return p.remote.LocalEntries(ring.TokenRange{Start: start, End: end})
}

func (p *enginePeer) FetchSiblings(node ring.Node, key string) ([]engine.Versioned, bool, error) {
	if p.fail {
		return nil, false, assert.AnError
	}
	return p.eng.Get(key)
}

func (p *enginePeer) PushVersion(node ring.Node, key string, v engine.Versioned) error {
	if p.fail {
		return assert.AnError
	}
	_, err := p.eng.Put(key, v)
	return err
}

// twoNodeSetup builds a two-node cluster with engines wired to each other's
// repairers, bypassing the rpc layer.
func twoNodeSetup(t *testing.T) (repA, repB *Repairer, engA, engB *memory.Memory, peerToB *enginePeer) {
	t.Helper()

	r := ring.New()
	require.NoError(t, r.AddNode(ring.Node{ID: "a", Addr: "a:4000", State: ring.StateAlive}, 16))
	require.NoError(t, r.AddNode(ring.Node{ID: "b", Addr: "b:4000", State: ring.StateAlive}, 16))

	engA = memory.New(nil)
	engB = memory.New(nil)
	alive := staticStatus{"a": membership.Alive, "b": membership.Alive}

	repB = New(Config{LocalID: "b", N: 2}, r, engB, alive, nil, hints.New(nil))
	peerToB = &enginePeer{eng: engB, remote: repB}
	repA = New(Config{LocalID: "a", N: 2}, r, engA, alive, peerToB, hints.New(nil))

	// B's client points back at A.
	repB.client = &enginePeer{eng: engA, remote: repA}
	return repA, repB, engA, engB, peerToB
}

func put(t *testing.T, eng engine.Engine, key, value, nodeID string, counter uint64) {
	t.Helper()
	v := engine.Versioned{
		Value:     []byte(value),
		Version:   vclock.Vector{{NodeID: nodeID, Counter: counter}},
		Timestamp: 1,
	}
	_, err := eng.Put(key, v)
	require.NoError(t, err)
}

func siblingsOf(t *testing.T, eng engine.Engine, key string) []engine.Versioned {
	t.Helper()
	siblings, _, err := eng.Get(key)
	require.NoError(t, err)
	return siblings
}

func TestRepairConvergesDivergedReplicas(t *testing.T) {
	repA, repB, engA, engB, _ := twoNodeSetup(t)

	// A has keys B misses and vice versa, plus one key with concurrent
	// versions split across the two.
	put(t, engA, "only-on-a", "va", "a", 1)
	put(t, engB, "only-on-b", "vb", "b", 1)
	put(t, engA, "split", "from-a", "a", 1)
	put(t, engB, "split", "from-b", "b", 1)

	// One round from each side covers all token ranges.
	repA.RunOnce()
	repB.RunOnce()

	for _, key := range []string{"only-on-a", "only-on-b"} {
		assert.Len(t, siblingsOf(t, engA, key), 1, "key %s on a", key)
		assert.Len(t, siblingsOf(t, engB, key), 1, "key %s on b", key)
	}

	// The concurrent versions survive as siblings on both replicas.
	assert.Len(t, siblingsOf(t, engA, "split"), 2)
	assert.Len(t, siblingsOf(t, engB, "split"), 2)
	assert.Equal(t, DigestSiblings("split", siblingsOf(t, engA, "split")),
		DigestSiblings("split", siblingsOf(t, engB, "split")))
}

func TestRepairPropagatesTombstones(t *testing.T) {
	repA, _, engA, engB, _ := twoNodeSetup(t)

	put(t, engB, "deleted", "old", "a", 1)
	tomb := engine.Versioned{
		Version:   vclock.Vector{{NodeID: "a", Counter: 2}},
		Tombstone: true,
		Timestamp: 2,
	}
	_, err := engA.Put("deleted", tomb)
	require.NoError(t, err)

	repA.RunOnce()

	siblings := siblingsOf(t, engB, "deleted")
	require.Len(t, siblings, 1)
	assert.True(t, siblings[0].Tombstone)
}

func TestRepairNoopOnIdenticalReplicas(t *testing.T) {
	repA, repB, engA, engB, _ := twoNodeSetup(t)

	put(t, engA, "same", "v", "a", 1)
	put(t, engB, "same", "v", "a", 1)

	repA.RunOnce()
	repB.RunOnce()

	assert.Len(t, siblingsOf(t, engA, "same"), 1)
	assert.Len(t, siblingsOf(t, engB, "same"), 1)
	assert.Equal(t, DigestSiblings("same", siblingsOf(t, engA, "same")),
		DigestSiblings("same", siblingsOf(t, engB, "same")))
}

func TestHintReplayToRevivedNode(t *testing.T) {
	repA, _, _, engB, _ := twoNodeSetup(t)

	v := engine.Versioned{
		Value:     []byte("missed"),
		Version:   vclock.Vector{{NodeID: "a", Counter: 1}},
		Timestamp: 1,
	}
	repA.hints.Enqueue("b", "missed-key", v)

	repA.RunOnce()

	assert.Zero(t, repA.hints.Pending("b"))
	siblings := siblingsOf(t, engB, "missed-key")
	require.Len(t, siblings, 1)
	assert.Equal(t, []byte("missed"), siblings[0].Value)
}

func TestHintReplaySkipsDeadTarget(t *testing.T) {
	repA, _, _, _, _ := twoNodeSetup(t)
	repA.members = staticStatus{"a": membership.Alive, "b": membership.Dead}

	v := engine.Versioned{
		Value:     []byte("x"),
		Version:   vclock.Vector{{NodeID: "a", Counter: 1}},
		Timestamp: 1,
	}
	repA.hints.Enqueue("b", "k", v)

	repA.replayHints()

	assert.Equal(t, 1, repA.hints.Pending("b"))
}

func TestHintRequeueOnDeliveryFailure(t *testing.T) {
	repA, _, _, _, peer := twoNodeSetup(t)
	peer.fail = true

	v := engine.Versioned{
		Value:     []byte("x"),
		Version:   vclock.Vector{{NodeID: "a", Counter: 1}},
		Timestamp: 1,
	}
	repA.hints.Enqueue("b", "k1", v)
	repA.hints.Enqueue("b", "k2", v)

	repA.replayHints()

	assert.Equal(t, 2, repA.hints.Pending("b"))
}
