package server

import (
	"fmt"

	"github.com/qkv-io/qkv/lib/antientropy"
	"github.com/qkv-io/qkv/lib/engine"
	"github.com/qkv-io/qkv/lib/membership"
	"github.com/qkv-io/qkv/lib/ring"
	"github.com/qkv-io/qkv/lib/vclock"
	"github.com/qkv-io/qkv/rpc/common"
)

// NewReplicaServerAdapter creates the adapter that serves all inter-node
// messages of one qkv node: replica reads and writes, failure-detector
// heartbeats, membership gossip and anti-entropy digest exchanges.
func NewReplicaServerAdapter(
	localID string,
	n int,
	rng *ring.Ring,
	eng engine.Engine,
	members *membership.Table,
	repairer *antientropy.Repairer,
) IRPCServerAdapter {
	return &replicaServerAdapterImpl{
		localID:  localID,
		n:        n,
		ring:     rng,
		engine:   eng,
		members:  members,
		repairer: repairer,
	}
}

type replicaServerAdapterImpl struct {
	localID  string
	n        int
	ring     *ring.Ring
	engine   engine.Engine
	members  *membership.Table
	repairer *antientropy.Repairer
}

// Interface Methods (docu see IRPCServerAdapter)

func (adapter *replicaServerAdapterImpl) Handle(senderEpoch uint64, req *common.Message) *common.Message {
	// Handle different message types
	switch req.MsgType {
	case common.MsgTReplicaWrite:
		return adapter.handleWrite(senderEpoch, req)
	case common.MsgTReplicaRead:
		return adapter.handleRead(senderEpoch, req)
	case common.MsgTHeartbeat:
		return adapter.handleHeartbeat(req)
	case common.MsgTGossip:
		return adapter.handleGossip(req)
	case common.MsgTRepairDigest:
		return adapter.handleRepairDigest(req)
	case common.MsgTRepairKeys:
		return adapter.handleRepairKeys(req)
	default:
		return common.NewErrorResponse(
			common.CodeInternal,
			fmt.Sprintf("RPC ReplicaAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}

// --------------------------------------------------------------------------
// Replica Read / Write
// --------------------------------------------------------------------------

// ownsKey reports whether the local node is one of the key's replicas on the
// local ring view. A coordinator that addresses us for a key we do not own is
// working off a diverged ring and must refresh before retrying. The frame
// epoch is not comparable across nodes (each node counts its own mutations),
// so it only informs the log line.
func (adapter *replicaServerAdapterImpl) ownsKey(key string, senderEpoch uint64) bool {
	for _, node := range adapter.ring.ReplicasFor(key, adapter.n) {
		if node.ID == adapter.localID {
			return true
		}
	}
	Logger.Debugf("rejecting %q: not a replica on local ring (epoch local=%d sender=%d)",
		key, adapter.ring.Epoch(), senderEpoch)
	return false
}

func (adapter *replicaServerAdapterImpl) handleWrite(senderEpoch uint64, req *common.Message) *common.Message {
	// Repair writes (read repair, hinted handoff, anti-entropy) bypass the
	// ownership check: during a transition they legitimately target nodes
	// the sender's ring names but ours does not yet.
	if !req.Repair && !adapter.ownsKey(req.Key, senderEpoch) {
		return common.NewErrorResponse(
			common.CodeRingInconsistent,
			fmt.Sprintf("node %s is not a replica for key %q", adapter.localID, req.Key),
		)
	}

	var version vclock.Vector
	if err := version.UnmarshalBinary(req.Version); err != nil {
		return common.NewReplicaWriteResponse(common.CodeInternal, fmt.Errorf("decode version: %w", err))
	}

	result, err := adapter.engine.Put(req.Key, engine.Versioned{
		Value:     req.Value,
		Version:   version,
		Tombstone: req.Tombstone,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		return common.NewReplicaWriteResponse(common.CodeInternal, err)
	}

	switch result {
	case engine.PutStale:
		return common.NewReplicaWriteResponse(common.CodeStaleWrite, nil)
	case engine.PutDuplicate:
		return common.NewReplicaWriteResponse(common.CodeDuplicateWrite, nil)
	default:
		return common.NewReplicaWriteResponse(common.CodeOK, nil)
	}
}

func (adapter *replicaServerAdapterImpl) handleRead(senderEpoch uint64, req *common.Message) *common.Message {
	if !adapter.ownsKey(req.Key, senderEpoch) {
		return common.NewErrorResponse(
			common.CodeRingInconsistent,
			fmt.Sprintf("node %s is not a replica for key %q", adapter.localID, req.Key),
		)
	}

	siblings, found, err := adapter.engine.Get(req.Key)
	if err != nil {
		return common.NewReplicaReadResponse(nil, false, err)
	}
	if !found {
		return common.NewReplicaReadResponse(nil, false, nil)
	}

	encoded, err := engine.MarshalSiblings(siblings)
	if err != nil {
		return common.NewReplicaReadResponse(nil, false, fmt.Errorf("encode siblings: %w", err))
	}
	return common.NewReplicaReadResponse(encoded, true, nil)
}

// --------------------------------------------------------------------------
// Heartbeat and Gossip
// --------------------------------------------------------------------------

func (adapter *replicaServerAdapterImpl) handleHeartbeat(req *common.Message) *common.Message {
	if req.NodeID != "" {
		adapter.members.Heartbeat(req.NodeID)
	}
	return common.NewHeartbeatResponse(adapter.localID, adapter.ring.Epoch())
}

func (adapter *replicaServerAdapterImpl) handleGossip(req *common.Message) *common.Message {
	remote, err := membership.UnmarshalMembers(req.Members)
	if err != nil {
		return common.NewErrorResponse(common.CodeInternal, fmt.Sprintf("decode members: %s", err))
	}
	adapter.members.Merge(remote)
	if req.NodeID != "" {
		adapter.members.Heartbeat(req.NodeID)
	}

	// Push-pull: answer with our merged view so both sides converge.
	encoded, err := membership.MarshalMembers(adapter.members.Snapshot())
	if err != nil {
		return common.NewErrorResponse(common.CodeInternal, fmt.Sprintf("encode members: %s", err))
	}
	return common.NewGossipResponse(adapter.localID, encoded)
}

// --------------------------------------------------------------------------
// Anti-Entropy
// --------------------------------------------------------------------------

func (adapter *replicaServerAdapterImpl) handleRepairDigest(req *common.Message) *common.Message {
	rng := ring.TokenRange{Start: req.RangeStart, End: req.RangeEnd}
	digest, err := adapter.repairer.LocalRootDigest(rng)
	if err != nil {
		return common.NewErrorResponse(common.CodeInternal, fmt.Sprintf("range digest: %s", err))
	}
	return common.NewRepairDigestResponse(digest == req.Digest, digest)
}

func (adapter *replicaServerAdapterImpl) handleRepairKeys(req *common.Message) *common.Message {
	rng := ring.TokenRange{Start: req.RangeStart, End: req.RangeEnd}
	entries, err := adapter.repairer.LocalEntries(rng)
	if err != nil {
		return common.NewRepairKeysResponse(nil, err)
	}
	encoded, err := antientropy.MarshalDigests(entries)
	if err != nil {
		return common.NewRepairKeysResponse(nil, fmt.Errorf("encode digests: %w", err))
	}
	return common.NewRepairKeysResponse(encoded, nil)
}
