package resolver

import (
	"fmt"
	"strings"

	"github.com/qkv-io/qkv/lib/engine"
	"github.com/qkv-io/qkv/lib/vclock"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Mode selects how concurrent versions of a key are collapsed.
type Mode int

const (
	// SiblingPreserving surfaces all maximal concurrent versions to the
	// caller and lets application logic merge them.
	SiblingPreserving Mode = iota
	// LastWriteWins picks the sibling with the highest wall-clock timestamp.
	LastWriteWins
)

// String returns the string representation of a Mode.
func (m Mode) String() string {
	switch m {
	case SiblingPreserving:
		return "sibling-preserving"
	case LastWriteWins:
		return "last-write-wins"
	default:
		return "unknown"
	}
}

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "siblings", "sibling-preserving":
		return SiblingPreserving, nil
	case "lww", "last-write-wins":
		return LastWriteWins, nil
	default:
		return 0, fmt.Errorf("invalid consistency mode %q (expected sibling-preserving or lww)", s)
	}
}

// Version is one replica's answer for a key, tagged with the replica that
// returned it so read repair can target stale copies.
type Version struct {
	ReplicaID string
	engine.Versioned
}

// Result is the outcome of reconciling the versions for one key.
type Result struct {
	// Siblings is the maximal set of non-dominated versions. Empty when no
	// replica returned data. In LastWriteWins mode it holds at most one
	// element.
	Siblings []engine.Versioned
	// Stale maps replica IDs to versions that are strictly dominated by a
	// sibling. These replicas are candidates for read repair.
	Stale map[string]engine.Versioned
	// Missing lists replicas that answered the read but returned no version
	// for the key; read repair pushes the sibling set to them too.
	Missing []string
}

// HasConflict reports whether multiple concurrent siblings remain.
func (r Result) HasConflict() bool {
	return len(r.Siblings) > 1
}

// NotFound reports whether the key effectively does not exist: no versions,
// or nothing but tombstones.
func (r Result) NotFound() bool {
	for _, s := range r.Siblings {
		if !s.Tombstone {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Resolution
// --------------------------------------------------------------------------

// Resolve reconciles the versions replicas returned for one key. Replicas
// that answered without data are passed in missing.
func Resolve(mode Mode, versions []Version, missing []string) Result {
	res := Result{
		Stale:   make(map[string]engine.Versioned),
		Missing: missing,
	}

	for i, v := range versions {
		dominated := false
		for j, other := range versions {
			if i == j {
				continue
			}
			ord := v.Version.Compare(other.Version)
			if ord == vclock.Dominated {
				dominated = true
				break
			}
			// Among causally equal copies keep only the first occurrence.
			if ord == vclock.Equal && j < i {
				dominated = true
				break
			}
		}
		if dominated {
			// Strictly dominated versions mark their replica stale; equal
			// duplicates do not need repair.
			if isStrictlyDominated(v, versions) {
				res.Stale[v.ReplicaID] = v.Versioned
			}
			continue
		}
		res.Siblings = append(res.Siblings, v.Versioned)
	}

	if mode == LastWriteWins && len(res.Siblings) > 1 {
		res.Siblings = []engine.Versioned{pickLatest(res.Siblings)}
	}
	return res
}

// Merged returns the union vector covering every input version. Read repair
// pushes siblings carrying this merged causal history context.
func Merged(versions []Version) vclock.Vector {
	out := vclock.New()
	for _, v := range versions {
		out = out.Merge(v.Version)
	}
	return out
}

func isStrictlyDominated(v Version, versions []Version) bool {
	for _, other := range versions {
		if v.Version.Compare(other.Version) == vclock.Dominated {
			return true
		}
	}
	return false
}

// pickLatest selects the LWW winner: highest timestamp, with the vector's
// string form as a deterministic tiebreaker so that every coordinator
// collapses the same sibling set to the same survivor.
func pickLatest(siblings []engine.Versioned) engine.Versioned {
	best := siblings[0]
	for _, s := range siblings[1:] {
		if s.Timestamp > best.Timestamp ||
			(s.Timestamp == best.Timestamp && s.Version.String() > best.Version.String()) {
			best = s
		}
	}
	return best
}
