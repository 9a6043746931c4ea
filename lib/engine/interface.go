package engine

import (
	"time"

	"github.com/qkv-io/qkv/lib/vclock"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Versioned is one version of a key: the payload plus the version vector
// recording its causal history. Tombstone marks a delete travelling the
// normal write path. Timestamp is the coordinator's wall clock at write time
// in unix milliseconds; it is only consulted by last-write-wins resolution.
type Versioned struct {
	Value     []byte
	Version   vclock.Vector
	Tombstone bool
	Timestamp int64
}

// NewVersioned creates a value version stamped with the current wall clock.
func NewVersioned(value []byte, version vclock.Vector) Versioned {
	return Versioned{
		Value:     value,
		Version:   version,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewTombstone creates a delete marker stamped with the current wall clock.
func NewTombstone(version vclock.Vector) Versioned {
	return Versioned{
		Version:   version,
		Tombstone: true,
		Timestamp: time.Now().UnixMilli(),
	}
}

// PutResult reports how the engine handled a write.
type PutResult int

const (
	// PutApplied means the version was stored, replacing any siblings it
	// dominates.
	PutApplied PutResult = iota
	// PutStale means the version was rejected because an already-stored
	// sibling dominates it. Never fatal: the caller's data is a causal
	// ancestor of what the replica already holds.
	PutStale
	// PutDuplicate means an identical version was already stored. The write
	// is acknowledged without changing state.
	PutDuplicate
)

// String returns the string representation of a PutResult.
func (r PutResult) String() string {
	switch r {
	case PutApplied:
		return "applied"
	case PutStale:
		return "stale"
	case PutDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// Engine is the per-node storage collaborator. Implementations must be safe
// for concurrent use.
type Engine interface {
	// Get returns the sibling set for a key. The boolean reports whether the
	// key is present at all; a present key may consist solely of tombstones.
	Get(key string) (siblings []Versioned, ok bool, err error)

	// Put merges one version into the key's sibling set under version-vector
	// dominance rules (see the package documentation).
	Put(key string, v Versioned) (PutResult, error)

	// Scan visits every key with its sibling set until fn returns false.
	// The iteration order is unspecified. fn must not call back into the
	// engine.
	Scan(fn func(key string, siblings []Versioned) bool) error

	// Len returns the number of stored keys, tombstoned keys included.
	Len() int

	// Close releases engine resources and stops background maintenance.
	Close() error
}

// MergeSiblings folds a new version into an existing sibling set and is the
// single dominance-rule implementation shared by engines. It returns the
// updated set and how the write was classified.
func MergeSiblings(siblings []Versioned, incoming Versioned) ([]Versioned, PutResult) {
	kept := make([]Versioned, 0, len(siblings)+1)
	for _, s := range siblings {
		switch incoming.Version.Compare(s.Version) {
		case vclock.Equal:
			return siblings, PutDuplicate
		case vclock.Dominated:
			return siblings, PutStale
		case vclock.Dominates:
			// Incoming supersedes this sibling; drop it.
		case vclock.Concurrent:
			kept = append(kept, s)
		}
	}
	return append(kept, incoming), PutApplied
}
