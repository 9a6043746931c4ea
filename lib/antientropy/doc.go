// Package antientropy implements the background convergence machinery of the
// distributed key-value store: Merkle-tree based range repair and hinted
// handoff replay.
//
// The package focuses on:
//   - Detecting replica divergence cheaply: one root digest comparison per
//     owned token range and peer, with per-key digests exchanged only on
//     mismatch
//   - Converging differing keys in both directions through the engines'
//     sibling merge, so repair never loses a causally independent version
//   - Replaying hinted writes once the failure detector reports their
//     target Alive again
//
// Key Components:
//
//   - Repairer: The background loop. Runs on an interval, can be triggered
//     early (e.g. on membership changes) and exposes the local side of the
//     repair exchange to the rpc server.
//
//   - KeyDigest/DigestSiblings: Order-independent digest of one key's
//     sibling set; equal sibling sets digest equally on every replica.
//
//   - buildTree/diffTrees: Merkle construction and top-down diff. Leaves are
//     sorted by key and padded to a power of two; a digest mismatch recurses
//     until the differing leaves are found.
//
// The per-key digest listing crossing the wire is encoded with
// MarshalDigests/UnmarshalDigests.
package antientropy
