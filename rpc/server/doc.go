// Package server implements one node of the distributed key-value store.
// It wires the storage engine, the consistent-hash ring, the gossip-based
// membership table, the quorum coordinator and the anti-entropy repairer
// together and exposes them over two surfaces: the inter-node RPC transport
// and the client-facing HTTP API.
//
// The package focuses on:
//   - Server-side handling of all inter-node messages (replica reads and
//     writes, heartbeats, gossip exchanges, Merkle digest comparisons)
//   - Adapter pattern to decouple node logic from RPC mechanisms
//   - Background loops for failure detection and membership gossip
//   - The REST API through which clients read and write keys
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for server adapters,
//     with the Handle method that processes one decoded request message.
//
//   - NewReplicaServerAdapter: Factory function creating the adapter that
//     serves replica, membership and anti-entropy requests against the local
//     engine, ring and membership table.
//
//   - NewRPCServer: Factory function creating a configured node server with
//     the specified transports and serializer.
//
// Usage Example:
//
//	// Create server configuration
//	config := common.ServerConfig{
//	  NodeID:   "node-a",
//	  Endpoint: "0.0.0.0:8080",
//	  HTTPAddr: "0.0.0.0:9080",
//	  Peers:    peers,
//	  VNodeCount: 128,
//	  Quorum:   common.QuorumConfig{N: 3, W: 2, R: 2},
//	  ConsistencyMode: "sibling-preserving",
//	  TimeoutSecond: 5,
//	  LogLevel: "info",
//	}
//
//	// Create and start the server
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  tcp.NewTCPClientTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//	if err := s.Serve(); err != nil {
//	  panic(err)
//	}
//
// Any node can coordinate any key: the HTTP API forwards every request to
// the local coordinator, which fans out to the key's replicas on the ring.
package server
