// Package rpc provides the inter-node communication layer of the distributed
// key-value store. Every message between nodes, whether a replica operation,
// a failure-detector heartbeat, a gossip exchange or an anti-entropy digest
// comparison, travels through this framework.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable
//     implementations (TCP, Unix sockets).
//
//   - serializer: Message serialization with multiple format options (Binary,
//     JSON, GOB) for converting between Message objects and byte arrays.
//
//   - client: The RPC client through which a node addresses its peers for
//     replica writes and reads, heartbeats, gossip and repair exchanges.
//
//   - server: One full node: the adapter serving all inter-node requests, the
//     wiring of engine, ring, membership, coordinator and repairer, and the
//     client-facing HTTP API.
package rpc
