package vclock

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Entry is a single (nodeID, counter) pair of a version vector.
type Entry struct {
	NodeID  string
	Counter uint64
}

// Vector is a version vector: a slice of entries sorted by NodeID.
// The zero value (nil) is a valid empty vector.
//
// Invariants: entries are sorted by NodeID, NodeIDs are unique, and no entry
// has a zero counter. All methods preserve these invariants.
type Vector []Entry

// Ordering is the result of comparing two vectors.
type Ordering int

const (
	// Equal means both vectors have identical entries.
	Equal Ordering = iota
	// Dominates means the receiver is causally newer than the argument.
	Dominates
	// Dominated means the receiver is causally older than the argument.
	Dominated
	// Concurrent means neither vector descends from the other.
	Concurrent
)

// String returns the string representation of an Ordering.
func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Dominates:
		return "dominates"
	case Dominated:
		return "dominated"
	case Concurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Construction and Accessors
// --------------------------------------------------------------------------

// New creates an empty version vector.
func New() Vector {
	return Vector{}
}

// Counter returns the counter recorded for nodeID, or 0 if absent.
func (v Vector) Counter(nodeID string) uint64 {
	i := v.search(nodeID)
	if i < len(v) && v[i].NodeID == nodeID {
		return v[i].Counter
	}
	return 0
}

// Increment returns a copy of the vector with the counter for nodeID
// advanced by one. The receiver is not modified.
func (v Vector) Increment(nodeID string) Vector {
	out := v.Clone()
	i := out.search(nodeID)
	if i < len(out) && out[i].NodeID == nodeID {
		out[i].Counter++
		return out
	}
	out = append(out, Entry{})
	copy(out[i+1:], out[i:])
	out[i] = Entry{NodeID: nodeID, Counter: 1}
	return out
}

// Clone returns a deep copy of the vector.
func (v Vector) Clone() Vector {
	if len(v) == 0 {
		return Vector{}
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// search returns the insertion index for nodeID.
func (v Vector) search(nodeID string) int {
	return sort.Search(len(v), func(i int) bool { return v[i].NodeID >= nodeID })
}

// --------------------------------------------------------------------------
// Merge and Comparison
// --------------------------------------------------------------------------

// Merge returns the component-wise maximum of both vectors. The result
// dominates (or equals) both inputs.
func (v Vector) Merge(other Vector) Vector {
	out := make(Vector, 0, len(v)+len(other))
	i, j := 0, 0
	for i < len(v) && j < len(other) {
		switch {
		case v[i].NodeID == other[j].NodeID:
			e := v[i]
			if other[j].Counter > e.Counter {
				e.Counter = other[j].Counter
			}
			out = append(out, e)
			i++
			j++
		case v[i].NodeID < other[j].NodeID:
			out = append(out, v[i])
			i++
		default:
			out = append(out, other[j])
			j++
		}
	}
	out = append(out, v[i:]...)
	out = append(out, other[j:]...)
	return out
}

// Compare determines the causal relationship between two vectors.
func (v Vector) Compare(other Vector) Ordering {
	var less, greater bool
	i, j := 0, 0
	for i < len(v) && j < len(other) {
		switch {
		case v[i].NodeID == other[j].NodeID:
			if v[i].Counter < other[j].Counter {
				less = true
			} else if v[i].Counter > other[j].Counter {
				greater = true
			}
			i++
			j++
		case v[i].NodeID < other[j].NodeID:
			// Present only in v (other implicitly has counter 0).
			greater = true
			i++
		default:
			less = true
			j++
		}
	}
	if i < len(v) {
		greater = true
	}
	if j < len(other) {
		less = true
	}

	switch {
	case less && greater:
		return Concurrent
	case greater:
		return Dominates
	case less:
		return Dominated
	default:
		return Equal
	}
}

// Descends reports whether v is causally at or after other, i.e. whether
// every counter in other is covered by v.
func (v Vector) Descends(other Vector) bool {
	ord := v.Compare(other)
	return ord == Dominates || ord == Equal
}

// Equal reports whether both vectors have identical entries.
func (v Vector) Equal(other Vector) bool {
	if len(v) != len(other) {
		return false
	}
	for i := range v {
		if v[i] != other[i] {
			return false
		}
	}
	return true
}

// Concurrent reports whether neither vector descends from the other.
func (v Vector) Concurrent(other Vector) bool {
	return v.Compare(other) == Concurrent
}

// String formats the vector as {node:counter, ...} with deterministic order.
func (v Vector) String() string {
	if len(v) == 0 {
		return "{}"
	}
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = fmt.Sprintf("%s:%d", e.NodeID, e.Counter)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// --------------------------------------------------------------------------
// Binary Codec
// --------------------------------------------------------------------------

// MarshalBinary encodes the vector as:
//   - 4 bytes: entry count (uint32, big endian)
//   - per entry: 2 bytes nodeID length, nodeID bytes, 8 bytes counter
func (v Vector) MarshalBinary() ([]byte, error) {
	size := 4
	for _, e := range v {
		size += 2 + len(e.NodeID) + 8
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[:4], uint32(len(v)))
	pos := 4
	for _, e := range v {
		if len(e.NodeID) > 0xFFFF {
			return nil, fmt.Errorf("node ID too long: %d bytes", len(e.NodeID))
		}
		binary.BigEndian.PutUint16(buf[pos:pos+2], uint16(len(e.NodeID)))
		pos += 2
		copy(buf[pos:], e.NodeID)
		pos += len(e.NodeID)
		binary.BigEndian.PutUint64(buf[pos:pos+8], e.Counter)
		pos += 8
	}
	return buf, nil
}

// UnmarshalBinary decodes a vector encoded by MarshalBinary.
func (v *Vector) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		*v = Vector{}
		return nil
	}
	if len(data) < 4 {
		return fmt.Errorf("vector data too short: %d bytes", len(data))
	}
	count := binary.BigEndian.Uint32(data[:4])
	// An entry is at least 10 bytes on the wire, so a count the payload
	// cannot possibly hold is corruption. Reject it before allocating.
	if int64(count) > int64(len(data)-4)/10 {
		return fmt.Errorf("vector data too short for %d entries: %d bytes", count, len(data))
	}
	pos := 4
	out := make(Vector, 0, count)
	for n := uint32(0); n < count; n++ {
		if pos+2 > len(data) {
			return fmt.Errorf("vector data truncated at entry %d", n)
		}
		idLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+idLen+8 > len(data) {
			return fmt.Errorf("vector data truncated at entry %d", n)
		}
		id := string(data[pos : pos+idLen])
		pos += idLen
		counter := binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
		out = append(out, Entry{NodeID: id, Counter: counter})
	}
	// The encoder writes entries sorted; re-sort in case a foreign encoder did not.
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	*v = out
	return nil
}

// MustMarshal encodes the vector and panics on failure. Encoding can only
// fail on node IDs longer than 64 KiB, which the cluster never produces.
func (v Vector) MustMarshal() []byte {
	b, err := v.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return b
}
