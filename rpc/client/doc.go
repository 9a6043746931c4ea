// Package client provides the node-to-node RPC client for the distributed
// key-value store. It translates typed replica, membership and anti-entropy
// operations into wire messages and sends them over a pluggable transport.
//
// The package focuses on:
//   - Endpoint-addressed requests: the caller picks the peer, the client
//     moves bytes
//   - Stamping the local ring epoch into every frame header so peers can
//     reject requests from a diverged ring view
//   - Keeping response codes visible to the caller: a stale or duplicate
//     write is an outcome, not a transport error
//
// Key Components:
//
//   - ReplicaClient: The concrete client used by the coordinator, the
//     failure detector and the anti-entropy repairer. Consumers declare
//     their own narrow interfaces over the methods they use.
//
//   - invokeRPCRequest: Shared request/response plumbing over the
//     transport and serializer abstractions.
package client
