// Package resolver reconciles divergent replica versions of a key.
//
// Given the (value, version vector) pairs returned by replicas, Resolve
// discards every version whose vector is dominated by another's, dedupes
// causally equal copies, and surfaces the remaining maximal versions as
// siblings. Concurrent versions are never silently dropped in the default
// sibling-preserving mode.
//
// A keyspace may instead be configured for last-write-wins, which collapses
// the sibling set to the version with the highest wall-clock timestamp. This
// trades correctness for convenience: clock skew between coordinators can
// silently discard legitimate concurrent writes, so callers needing strict
// guarantees must stay in sibling-preserving mode.
package resolver
