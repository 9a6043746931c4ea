package server

import (
	"context"
	"fmt"

	"github.com/qkv-io/qkv/lib/antientropy"
	"github.com/qkv-io/qkv/lib/coordinator"
	"github.com/qkv-io/qkv/lib/engine"
	"github.com/qkv-io/qkv/lib/ring"
	"github.com/qkv-io/qkv/rpc/client"
	"github.com/qkv-io/qkv/rpc/common"
)

// nodeClient is the server's view of the other replicas. It implements
// coordinator.IReplicaClient and antientropy.IPeerClient, short-circuiting
// operations on the local node straight into the storage engine and sending
// everything else over the RPC client.
type nodeClient struct {
	localID string
	engine  engine.Engine
	remote  *client.ReplicaClient
}

func newNodeClient(localID string, eng engine.Engine, remote *client.ReplicaClient) *nodeClient {
	return &nodeClient{localID: localID, engine: eng, remote: remote}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see coordinator.IReplicaClient)
// --------------------------------------------------------------------------

func (c *nodeClient) ReplicaWrite(ctx context.Context, node ring.Node, key string, v engine.Versioned, repair bool) (engine.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if node.ID == c.localID {
		return c.engine.Put(key, v)
	}

	code, err := c.remote.Write(node.Addr, key, v.Value, v.Version.MustMarshal(), v.Tombstone, v.Timestamp, repair)
	if code == common.CodeRingInconsistent {
		return 0, coordinator.ErrRingChanged
	}
	if err != nil {
		return 0, err
	}
	return putResultOf(code)
}

func (c *nodeClient) ReplicaRead(ctx context.Context, node ring.Node, key string) ([]engine.Versioned, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if node.ID == c.localID {
		return c.engine.Get(key)
	}

	encoded, found, code, err := c.remote.Read(node.Addr, key)
	if code == common.CodeRingInconsistent {
		return nil, false, coordinator.ErrRingChanged
	}
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	siblings, err := engine.UnmarshalSiblings(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("decode siblings from %s: %w", node.ID, err)
	}
	return siblings, true, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see antientropy.IPeerClient)
// --------------------------------------------------------------------------

func (c *nodeClient) RangeDigest(node ring.Node, start, end, digest uint64) (bool, error) {
	return c.remote.RepairDigest(node.Addr, start, end, digest)
}

func (c *nodeClient) RangeKeys(node ring.Node, start, end uint64) ([]antientropy.KeyDigest, error) {
	encoded, err := c.remote.RepairKeys(node.Addr, start, end)
	if err != nil {
		return nil, err
	}
	return antientropy.UnmarshalDigests(encoded)
}

func (c *nodeClient) FetchSiblings(node ring.Node, key string) ([]engine.Versioned, bool, error) {
	return c.ReplicaRead(context.Background(), node, key)
}

func (c *nodeClient) PushVersion(node ring.Node, key string, v engine.Versioned) error {
	_, err := c.ReplicaWrite(context.Background(), node, key, v, true)
	return err
}

// putResultOf maps a replica response code onto the engine result the
// coordinator reasons about. Ring-inconsistent answers surface as the
// coordinator's retry sentinel.
func putResultOf(code common.Code) (engine.PutResult, error) {
	switch code {
	case common.CodeOK:
		return engine.PutApplied, nil
	case common.CodeStaleWrite:
		return engine.PutStale, nil
	case common.CodeDuplicateWrite:
		return engine.PutDuplicate, nil
	case common.CodeRingInconsistent:
		return 0, coordinator.ErrRingChanged
	default:
		return 0, fmt.Errorf("replica write failed with code %s", code)
	}
}
