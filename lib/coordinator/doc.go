// Package coordinator implements the quorum replication layer of the
// distributed key-value store. Every node runs one coordinator; any node can
// coordinate any key (no leader, no per-key ownership of the client API).
//
// The package focuses on:
//   - Fanning writes out to the key's N-replica set and returning after W
//     acknowledgments, with stragglers finishing detached
//   - Collecting R read answers and resolving them through the resolver
//     package into the surviving sibling set
//   - Hinted handoff: every failed or timed-out replica write lands in the
//     hint queue for later delivery
//   - Read repair: replicas that answered a read with dominated or missing
//     data receive the resolved sibling set in the background
//   - Detecting a diverged ring (a replica answering with a different ring
//     epoch), refreshing the snapshot and retrying exactly once
//
// Key Components:
//
//   - Coordinator: The quorum state machine. Write increments the caller's
//     context vector with the local node ID, ties the version to the write
//     and requires W acks. Delete is a write whose payload is a tombstone.
//     Read requires R answers, tolerating not-found answers as data.
//
//   - IReplicaClient: Narrow dependency interface for single-replica
//     operations. The rpc server implements it against local storage and the
//     wire client.
//
//   - Error/RetCode: Typed operation errors (InsufficientQuorum, Timeout,
//     StaleWriteRejected, RingInconsistent) that outer layers map onto
//     HTTP status codes.
//
// Consistency:
//
//	With R+W > N the read quorum intersects every write quorum, yielding
//	read-your-writes for non-concurrent histories. Concurrent writes
//	surface as siblings (or collapse under last-write-wins, if configured).
package coordinator
