package ring

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// NodeState is the liveness state of a physical node as seen by the ring.
type NodeState int

const (
	StateAlive NodeState = iota
	StateSuspect
	StateDead
)

// String returns the string representation of a NodeState.
func (s NodeState) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateSuspect:
		return "suspect"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Node is a physical cluster node.
type Node struct {
	ID    string
	Addr  string
	State NodeState
}

// token is one virtual node position on the ring.
type token struct {
	hash   uint64
	nodeID string
}

// TokenRange is the half-open interval (Start, End] on the ring. A range
// with Start > End wraps around zero.
type TokenRange struct {
	Start uint64
	End   uint64
}

// Contains reports whether the hash falls into the range.
func (r TokenRange) Contains(h uint64) bool {
	if r.Start < r.End {
		return h > r.Start && h <= r.End
	}
	// Wrapped range.
	return h > r.Start || h <= r.End
}

// snapshot is an immutable view of the ring shared by all readers.
type snapshot struct {
	tokens []token          // sorted by hash
	nodes  map[string]*Node // nodeID -> node
	epoch  uint64
}

// Ring implements consistent hashing with virtual nodes.
type Ring struct {
	mu   sync.Mutex   // serializes mutations
	view atomic.Value // *snapshot
}

// --------------------------------------------------------------------------
// Construction and Mutation
// --------------------------------------------------------------------------

// New creates an empty ring.
func New() *Ring {
	r := &Ring{}
	r.view.Store(&snapshot{
		tokens: []token{},
		nodes:  map[string]*Node{},
		epoch:  0,
	})
	return r
}

// AddNode inserts a node with vnodeCount virtual nodes. Token positions are
// derived deterministically from the node ID, so re-adding a node after a
// failure places it on the same ring positions. Adding an existing node is
// a no-op.
func (r *Ring) AddNode(node Node, vnodeCount int) error {
	if vnodeCount <= 0 {
		return fmt.Errorf("vnode count must be positive, got %d", vnodeCount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	if _, ok := cur.nodes[node.ID]; ok {
		return nil
	}

	next := cur.clone()
	n := node
	next.nodes[n.ID] = &n
	for i := 0; i < vnodeCount; i++ {
		next.tokens = append(next.tokens, token{
			hash:   TokenFor(node.ID, i),
			nodeID: node.ID,
		})
	}
	sort.Slice(next.tokens, func(i, j int) bool { return next.tokens[i].hash < next.tokens[j].hash })

	next.epoch = cur.epoch + 1
	r.view.Store(next)
	return nil
}

// RemoveNode deletes a node and all of its tokens. This is the decommission
// primitive for taking a node out of the cluster for good; the failure
// detector never calls it, since Dead nodes keep their tokens and reclaim
// their old ranges on restart. Removing an unknown node is a no-op.
func (r *Ring) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	if _, ok := cur.nodes[nodeID]; !ok {
		return
	}

	next := cur.clone()
	delete(next.nodes, nodeID)
	kept := next.tokens[:0]
	for _, t := range next.tokens {
		if t.nodeID != nodeID {
			kept = append(kept, t)
		}
	}
	next.tokens = kept

	next.epoch = cur.epoch + 1
	r.view.Store(next)
}

// SetNodeState updates the liveness state of a node. Tokens stay in place;
// Dead nodes are skipped during replica selection so their key ranges fall
// through to ring successors without any token movement.
func (r *Ring) SetNodeState(nodeID string, state NodeState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	n, ok := cur.nodes[nodeID]
	if !ok || n.State == state {
		return
	}

	next := cur.clone()
	updated := *next.nodes[nodeID]
	updated.State = state
	next.nodes[nodeID] = &updated

	next.epoch = cur.epoch + 1
	r.view.Store(next)
}

// --------------------------------------------------------------------------
// Lookups
// --------------------------------------------------------------------------

// KeyHash maps a key onto the ring.
func KeyHash(key string) uint64 {
	return xxhash.Sum64String(key)
}

// TokenFor returns the ring position of the i-th virtual node of a node.
func TokenFor(nodeID string, i int) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s#%d", nodeID, i))
}

// ReplicasFor returns the ordered replica set for a key: up to n distinct
// physical nodes found walking clockwise from hash(key), skipping further
// virtual nodes of already-selected physical nodes and nodes marked Dead.
//
// If fewer than n live physical nodes exist, the returned list is short.
// Callers must treat a short list as reduced-durability mode, not an error.
func (r *Ring) ReplicasFor(key string, n int) []Node {
	return r.load().replicasFor(KeyHash(key), n)
}

// ReplicasForHash is ReplicasFor for a pre-computed key hash.
func (r *Ring) ReplicasForHash(hash uint64, n int) []Node {
	return r.load().replicasFor(hash, n)
}

func (s *snapshot) replicasFor(hash uint64, n int) []Node {
	if len(s.tokens) == 0 || n <= 0 {
		return nil
	}

	idx := sort.Search(len(s.tokens), func(i int) bool { return s.tokens[i].hash >= hash })
	if idx == len(s.tokens) {
		idx = 0 // wrap past the highest token
	}

	seen := make(map[string]struct{}, n)
	out := make([]Node, 0, n)
	for i := 0; i < len(s.tokens) && len(out) < n; i++ {
		t := s.tokens[(idx+i)%len(s.tokens)]
		if _, ok := seen[t.nodeID]; ok {
			continue
		}
		seen[t.nodeID] = struct{}{}
		node := s.nodes[t.nodeID]
		if node.State == StateDead {
			continue
		}
		out = append(out, *node)
	}
	return out
}

// Epoch returns the current ring epoch. The epoch advances on every mutation
// and lets replicas detect coordinators operating on a stale ring view.
func (r *Ring) Epoch() uint64 {
	return r.load().epoch
}

// Nodes returns all known nodes regardless of state.
func (r *Ring) Nodes() []Node {
	s := r.load()
	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Node returns the node with the given ID.
func (r *Ring) Node(nodeID string) (Node, bool) {
	n, ok := r.load().nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// OwnedRanges returns the token ranges for which nodeID is the primary
// owner: for each of its tokens, the interval from the predecessor token
// (exclusive) to the token itself (inclusive). Used by anti-entropy to
// decide which key ranges this node is responsible for repairing.
func (r *Ring) OwnedRanges(nodeID string) []TokenRange {
	s := r.load()
	if len(s.tokens) == 0 {
		return nil
	}
	if len(s.tokens) == 1 {
		if s.tokens[0].nodeID != nodeID {
			return nil
		}
		// A single token owns the whole ring.
		return []TokenRange{{Start: s.tokens[0].hash, End: s.tokens[0].hash}}
	}

	var out []TokenRange
	for i, t := range s.tokens {
		if t.nodeID != nodeID {
			continue
		}
		prev := s.tokens[(i+len(s.tokens)-1)%len(s.tokens)]
		out = append(out, TokenRange{Start: prev.hash, End: t.hash})
	}
	return out
}

// TokenCount returns the total number of virtual nodes on the ring.
func (r *Ring) TokenCount() int {
	return len(r.load().tokens)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (r *Ring) load() *snapshot {
	return r.view.Load().(*snapshot)
}

func (s *snapshot) clone() *snapshot {
	tokens := make([]token, len(s.tokens))
	copy(tokens, s.tokens)
	nodes := make(map[string]*Node, len(s.nodes))
	for id, n := range s.nodes {
		nodes[id] = n
	}
	return &snapshot{tokens: tokens, nodes: nodes, epoch: s.epoch}
}
