package antientropy

import (
	"encoding/binary"
	"fmt"
)

// Wire format for a key digest listing:
// - 4 bytes: entry count (uint32, big endian)
// per entry:
// - 2 bytes: key length, followed by the key bytes
// - 8 bytes: digest (uint64, big endian)

// MarshalDigests encodes a key digest listing for the repair exchange.
func MarshalDigests(entries []KeyDigest) ([]byte, error) {
	size := 4
	for _, e := range entries {
		if len(e.Key) > 0xFFFF {
			return nil, fmt.Errorf("key too long to encode: %d bytes", len(e.Key))
		}
		size += 2 + len(e.Key) + 8
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[:4], uint32(len(entries)))
	pos := 4
	for _, e := range entries {
		binary.BigEndian.PutUint16(buf[pos:pos+2], uint16(len(e.Key)))
		pos += 2
		copy(buf[pos:], e.Key)
		pos += len(e.Key)
		binary.BigEndian.PutUint64(buf[pos:pos+8], e.Digest)
		pos += 8
	}
	return buf, nil
}

// UnmarshalDigests decodes a key digest listing.
func UnmarshalDigests(data []byte) ([]KeyDigest, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("digest listing too short for header")
	}
	count := binary.BigEndian.Uint32(data[:4])
	// Each entry takes at least 10 bytes on the wire; reject a count the
	// payload cannot hold before allocating for it.
	if int64(count) > int64(len(data)-4)/10 {
		return nil, fmt.Errorf("digest listing too short for %d entries: %d bytes", count, len(data))
	}
	pos := 4

	entries := make([]KeyDigest, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+2 > len(data) {
			return nil, fmt.Errorf("digest listing too short for key length")
		}
		keyLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+keyLen+8 > len(data) {
			return nil, fmt.Errorf("digest listing too short for entry")
		}
		entries = append(entries, KeyDigest{
			Key:    string(data[pos : pos+keyLen]),
			Digest: binary.BigEndian.Uint64(data[pos+keyLen : pos+keyLen+8]),
		})
		pos += keyLen + 8
	}
	return entries, nil
}
