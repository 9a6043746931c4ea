package client

import (
	"fmt"

	"github.com/qkv-io/qkv/rpc/common"
	"github.com/qkv-io/qkv/rpc/serializer"
	"github.com/qkv-io/qkv/rpc/transport"
)

// ReplicaClient sends replica, membership and repair requests to peer nodes.
// All methods are endpoint-addressed: the coordinator decides which replica a
// request goes to, the client only moves bytes.
type ReplicaClient struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
	epoch      func() uint64 // Local ring epoch, stamped into every frame header
}

// NewReplicaClient creates a new replica client
// The function takes a config, a transport, a serializer and an epoch source
// as parameters. The epoch source is called for every request so frames always
// carry the current local ring epoch.
func NewReplicaClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
	epoch func() uint64,
) (*ReplicaClient, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	return &ReplicaClient{
		config:     config,
		transport:  transport,
		serializer: serializer,
		epoch:      epoch,
	}, nil
}

// Close closes the underlying transport
func (c *ReplicaClient) Close() error {
	return c.transport.Close()
}

// --------------------------------------------------------------------------
// Replica Operations
// --------------------------------------------------------------------------

// Write stores one version on the replica at endpoint. The returned code
// distinguishes applied, stale, duplicate and ring-inconsistent outcomes; the
// error return covers transport failures and replica-side storage errors.
func (c *ReplicaClient) Write(endpoint, key string, value, version []byte, tombstone bool, timestamp int64, repair bool) (common.Code, error) {
	req := common.NewReplicaWriteRequest(key, value, version, tombstone, timestamp, repair)
	resp, err := invokeRPCRequest(endpoint, c.epoch(), req, c.transport, c.serializer)
	if err != nil {
		return common.CodeInternal, err
	}
	if resp.MsgType == common.MsgTError {
		return resp.Code, fmt.Errorf("replica write failed: %s", resp.Err)
	}
	return resp.Code, nil
}

// Read fetches the sibling set for key from the replica at endpoint.
// found=false means the replica has never seen the key.
func (c *ReplicaClient) Read(endpoint, key string) (siblings []byte, found bool, code common.Code, err error) {
	req := common.NewReplicaReadRequest(key)
	resp, err := invokeRPCRequest(endpoint, c.epoch(), req, c.transport, c.serializer)
	if err != nil {
		return nil, false, common.CodeInternal, err
	}
	if resp.MsgType == common.MsgTError {
		return nil, false, resp.Code, fmt.Errorf("replica read failed: %s", resp.Err)
	}
	return resp.Siblings, resp.Ok, resp.Code, nil
}

// --------------------------------------------------------------------------
// Membership Operations
// --------------------------------------------------------------------------

// Heartbeat probes the peer at endpoint and returns the peer's node id and
// ring epoch from the response.
func (c *ReplicaClient) Heartbeat(endpoint, nodeID string) (peerID string, peerEpoch uint64, err error) {
	req := common.NewHeartbeatRequest(nodeID, c.epoch())
	resp, err := invokeRPCRequest(endpoint, c.epoch(), req, c.transport, c.serializer)
	if err != nil {
		return "", 0, err
	}
	if resp.MsgType == common.MsgTError {
		return "", 0, fmt.Errorf("heartbeat failed: %s", resp.Err)
	}
	return resp.NodeID, resp.Epoch, nil
}

// Gossip sends the local membership view to the peer at endpoint and returns
// the peer's view for merging (push-pull exchange).
func (c *ReplicaClient) Gossip(endpoint, nodeID string, members []byte) (peerMembers []byte, err error) {
	req := common.NewGossipRequest(nodeID, members)
	resp, err := invokeRPCRequest(endpoint, c.epoch(), req, c.transport, c.serializer)
	if err != nil {
		return nil, err
	}
	if resp.MsgType == common.MsgTError {
		return nil, fmt.Errorf("gossip failed: %s", resp.Err)
	}
	return resp.Members, nil
}

// --------------------------------------------------------------------------
// Anti-Entropy Operations
// --------------------------------------------------------------------------

// RepairDigest compares the Merkle root digest of a token range with the peer
// at endpoint. match=true means the range is identical on both sides.
func (c *ReplicaClient) RepairDigest(endpoint string, start, end, digest uint64) (match bool, err error) {
	req := common.NewRepairDigestRequest(start, end, digest)
	resp, err := invokeRPCRequest(endpoint, c.epoch(), req, c.transport, c.serializer)
	if err != nil {
		return false, err
	}
	if resp.MsgType == common.MsgTError {
		return false, fmt.Errorf("repair digest failed: %s", resp.Err)
	}
	return resp.Ok, nil
}

// RepairKeys fetches the encoded per-key digests for a token range from the
// peer at endpoint.
func (c *ReplicaClient) RepairKeys(endpoint string, start, end uint64) (entries []byte, err error) {
	req := common.NewRepairKeysRequest(start, end)
	resp, err := invokeRPCRequest(endpoint, c.epoch(), req, c.transport, c.serializer)
	if err != nil {
		return nil, err
	}
	if resp.MsgType == common.MsgTError {
		return nil, fmt.Errorf("repair keys failed: %s", resp.Err)
	}
	return resp.Entries, nil
}
