// Package vclock implements version vectors for tracking causality between
// concurrent writes in the distributed key-value store.
//
// A Vector records, per node, how many writes that node has coordinated for a
// given key. Comparing two vectors yields one of four relationships
// (Dominates, Dominated, Concurrent, Equal) which the conflict resolver uses
// to separate causally stale versions from true siblings.
//
// Vectors are stored as sorted slices of (nodeID, counter) pairs rather than
// open-ended maps. This bounds memory per entry, makes comparison
// deterministic, and gives a compact binary encoding for the wire.
package vclock
