// Package memory provides the in-memory storage engine.
//
// Data is split across a fixed number of shards selected by key hash, each
// guarded by its own RWMutex, so concurrent replica operations on different
// keys rarely contend. A background reaper removes keys whose sibling sets
// consist solely of tombstones older than the configured TTL; until then
// tombstones replicate like ordinary values so deletes win quorum like any
// other write.
package memory
