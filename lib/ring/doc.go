// Package ring implements the consistent-hash ring that maps keys to their
// owning nodes.
//
// Every physical node owns a configurable number of virtual nodes (tokens)
// placed on a 64-bit ring. Keys are hashed onto the same ring and owned by
// the first N distinct physical nodes found walking clockwise from the key's
// position. Because tokens are spread pseudo-randomly, adding or removing one
// node only remaps the token intervals adjacent to its tokens, bounding data
// movement to roughly K/NumNodes keys.
//
// The ring is a read-mostly structure. Mutations (AddNode, RemoveNode,
// SetNodeState) build a new sorted token slice under the write lock and bump
// the ring epoch; lookups work on an immutable snapshot and never block on
// membership changes.
package ring
