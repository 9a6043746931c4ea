package membership

import (
	"encoding/binary"
	"fmt"
)

// Wire format for gossip exchange:
//   - 4 bytes: member count (uint32, big endian)
//   - per member: 2-byte-length-prefixed ID and Addr, 1 byte status,
//     8 bytes incarnation, 8 bytes last-seen unix millis

// MarshalMembers encodes a membership view for the gossip wire.
func MarshalMembers(members []Member) ([]byte, error) {
	size := 4
	for _, m := range members {
		size += 2 + len(m.ID) + 2 + len(m.Addr) + 1 + 8 + 8
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[:4], uint32(len(members)))
	pos := 4
	for _, m := range members {
		var err error
		if pos, err = putString(buf, pos, m.ID); err != nil {
			return nil, err
		}
		if pos, err = putString(buf, pos, m.Addr); err != nil {
			return nil, err
		}
		buf[pos] = byte(m.Status)
		pos++
		binary.BigEndian.PutUint64(buf[pos:pos+8], m.Incarnation)
		pos += 8
		binary.BigEndian.PutUint64(buf[pos:pos+8], uint64(m.LastSeen.UnixMilli()))
		pos += 8
	}
	return buf, nil
}

// UnmarshalMembers decodes a gossip membership view. LastSeen timestamps are
// intentionally not restored: the receiver stamps merged members with its own
// clock, since wall clocks are not comparable across nodes.
func UnmarshalMembers(data []byte) ([]Member, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("membership data too short: %d bytes", len(data))
	}
	count := binary.BigEndian.Uint32(data[:4])
	// Each member takes at least 21 bytes on the wire; reject a count the
	// payload cannot hold before allocating for it.
	if int64(count) > int64(len(data)-4)/21 {
		return nil, fmt.Errorf("membership data too short for %d members: %d bytes", count, len(data))
	}
	pos := 4
	out := make([]Member, 0, count)
	for n := uint32(0); n < count; n++ {
		var m Member
		var err error
		if m.ID, pos, err = getString(data, pos); err != nil {
			return nil, fmt.Errorf("member %d: %w", n, err)
		}
		if m.Addr, pos, err = getString(data, pos); err != nil {
			return nil, fmt.Errorf("member %d: %w", n, err)
		}
		if pos+1+8+8 > len(data) {
			return nil, fmt.Errorf("member %d: truncated", n)
		}
		m.Status = Status(data[pos])
		pos++
		m.Incarnation = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8 + 8 // skip the sender's last-seen millis
		out = append(out, m)
	}
	return out, nil
}

func putString(buf []byte, pos int, s string) (int, error) {
	if len(s) > 0xFFFF {
		return 0, fmt.Errorf("string too long: %d bytes", len(s))
	}
	binary.BigEndian.PutUint16(buf[pos:pos+2], uint16(len(s)))
	pos += 2
	copy(buf[pos:], s)
	return pos + len(s), nil
}

func getString(data []byte, pos int) (string, int, error) {
	if pos+2 > len(data) {
		return "", 0, fmt.Errorf("truncated string length")
	}
	l := int(binary.BigEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if pos+l > len(data) {
		return "", 0, fmt.Errorf("truncated string data")
	}
	return string(data[pos : pos+l]), pos + l, nil
}
