// Package engine defines the contract between the replication layer and the
// per-node storage engine.
//
// The replication coordinator treats the engine as an external collaborator:
// it hands over versioned records and expects the engine to enforce
// version-vector dominance on writes. A record for a key holds the full set
// of currently known siblings (concurrent, causally-unrelated versions);
// a write that is dominated by every stored sibling is rejected as stale, a
// causally newer write replaces the siblings it dominates, and a concurrent
// write joins the set. Replaying an identical write is a no-op, which gives
// the replication path its at-least-once idempotence.
//
// Deletes are tombstone writes that travel the same path as puts and are
// garbage-collected by the engine after a configurable TTL.
package engine
