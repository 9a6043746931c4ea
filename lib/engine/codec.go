package engine

import (
	"encoding/binary"
	"fmt"
)

// Wire format for a sibling set (used in replica read responses and repair
// exchanges):
//   - 4 bytes: sibling count (uint32, big endian)
//   - per sibling: 1 byte tombstone flag, 8 bytes timestamp,
//     4-byte-length-prefixed version vector, 4-byte-length-prefixed value

// MarshalSiblings encodes a sibling set.
func MarshalSiblings(siblings []Versioned) ([]byte, error) {
	size := 4
	encoded := make([][]byte, len(siblings))
	for i, s := range siblings {
		vv, err := s.Version.MarshalBinary()
		if err != nil {
			return nil, err
		}
		encoded[i] = vv
		size += 1 + 8 + 4 + len(vv) + 4 + len(s.Value)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[:4], uint32(len(siblings)))
	pos := 4
	for i, s := range siblings {
		if s.Tombstone {
			buf[pos] = 1
		}
		pos++
		binary.BigEndian.PutUint64(buf[pos:pos+8], uint64(s.Timestamp))
		pos += 8
		binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(encoded[i])))
		pos += 4
		copy(buf[pos:], encoded[i])
		pos += len(encoded[i])
		binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(s.Value)))
		pos += 4
		copy(buf[pos:], s.Value)
		pos += len(s.Value)
	}
	return buf, nil
}

// UnmarshalSiblings decodes a sibling set encoded by MarshalSiblings.
func UnmarshalSiblings(data []byte) ([]Versioned, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("sibling data too short: %d bytes", len(data))
	}
	count := binary.BigEndian.Uint32(data[:4])
	// Each sibling takes at least 17 bytes on the wire; reject a count the
	// payload cannot hold before allocating for it.
	if int64(count) > int64(len(data)-4)/17 {
		return nil, fmt.Errorf("sibling data too short for %d entries: %d bytes", count, len(data))
	}
	pos := 4
	out := make([]Versioned, 0, count)
	for n := uint32(0); n < count; n++ {
		if pos+1+8+4 > len(data) {
			return nil, fmt.Errorf("sibling %d: truncated header", n)
		}
		var s Versioned
		s.Tombstone = data[pos] == 1
		pos++
		s.Timestamp = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		pos += 8

		vvLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+vvLen > len(data) {
			return nil, fmt.Errorf("sibling %d: truncated version", n)
		}
		if err := s.Version.UnmarshalBinary(data[pos : pos+vvLen]); err != nil {
			return nil, fmt.Errorf("sibling %d: %w", n, err)
		}
		pos += vvLen

		if pos+4 > len(data) {
			return nil, fmt.Errorf("sibling %d: truncated value length", n)
		}
		valLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+valLen > len(data) {
			return nil, fmt.Errorf("sibling %d: truncated value", n)
		}
		if valLen > 0 {
			s.Value = append([]byte(nil), data[pos:pos+valLen]...)
		}
		pos += valLen
		out = append(out, s)
	}
	return out, nil
}
