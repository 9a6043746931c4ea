package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/qkv-io/qkv/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey        uint32 = 1 << 0
	hasValue      uint32 = 1 << 1
	hasVersion    uint32 = 1 << 2
	hasTombstone  uint32 = 1 << 3
	hasTimestamp  uint32 = 1 << 4
	hasRepair     uint32 = 1 << 5
	hasSiblings   uint32 = 1 << 6
	hasNodeID     uint32 = 1 << 7
	hasEpoch      uint32 = 1 << 8
	hasMembers    uint32 = 1 << 9
	hasRangeStart uint32 = 1 << 10
	hasRangeEnd   uint32 = 1 << 11
	hasDigest     uint32 = 1 << 12
	hasEntries    uint32 = 1 << 13
	hasOk         uint32 = 1 << 14
	hasCode       uint32 = 1 << 15
	hasErr        uint32 = 1 << 16
)

// headerSize is 1 byte for MsgType plus 4 bytes for the flags word
const headerSize = 5

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	totalSize := b.sizeBytes(msg)
	result := make([]byte, totalSize)

	// Write message type
	result[0] = byte(msg.MsgType)

	// Initialize flags word
	var flags uint32 = 0

	// Set position for writing
	pos := headerSize

	// Handle Key
	if msg.Key != "" {
		flags |= hasKey
		pos = writeBytes(result, pos, []byte(msg.Key))
	}

	// Handle Value
	if msg.Value != nil {
		flags |= hasValue
		pos = writeBytes(result, pos, msg.Value)
	}

	// Handle Version
	if msg.Version != nil {
		flags |= hasVersion
		pos = writeBytes(result, pos, msg.Version)
	}

	// Handle Tombstone (presence encodes true, no payload byte)
	if msg.Tombstone {
		flags |= hasTombstone
	}

	// Handle Timestamp
	if msg.Timestamp != 0 {
		flags |= hasTimestamp
		binary.BigEndian.PutUint64(result[pos:pos+8], uint64(msg.Timestamp))
		pos += 8
	}

	// Handle Repair (presence encodes true, no payload byte)
	if msg.Repair {
		flags |= hasRepair
	}

	// Handle Siblings
	if msg.Siblings != nil {
		flags |= hasSiblings
		pos = writeBytes(result, pos, msg.Siblings)
	}

	// Handle NodeID
	if msg.NodeID != "" {
		flags |= hasNodeID
		pos = writeBytes(result, pos, []byte(msg.NodeID))
	}

	// Handle Epoch
	if msg.Epoch != 0 {
		flags |= hasEpoch
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Epoch)
		pos += 8
	}

	// Handle Members
	if msg.Members != nil {
		flags |= hasMembers
		pos = writeBytes(result, pos, msg.Members)
	}

	// Handle RangeStart
	if msg.RangeStart != 0 {
		flags |= hasRangeStart
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.RangeStart)
		pos += 8
	}

	// Handle RangeEnd
	if msg.RangeEnd != 0 {
		flags |= hasRangeEnd
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.RangeEnd)
		pos += 8
	}

	// Handle Digest
	if msg.Digest != 0 {
		flags |= hasDigest
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Digest)
		pos += 8
	}

	// Handle Entries
	if msg.Entries != nil {
		flags |= hasEntries
		pos = writeBytes(result, pos, msg.Entries)
	}

	// Handle Ok (presence encodes true, no payload byte)
	if msg.Ok {
		flags |= hasOk
	}

	// Handle Code
	if msg.Code != common.CodeOK {
		flags |= hasCode
		result[pos] = byte(msg.Code)
		pos += 1
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		pos = writeBytes(result, pos, []byte(msg.Err))
	}

	// Set flags word after knowing which fields are present
	binary.BigEndian.PutUint32(result[1:headerSize], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	// Read message type
	msg.MsgType = common.MessageType(data[0])

	// Read flags
	flags := binary.BigEndian.Uint32(data[1:headerSize])

	// Initialize read position
	pos := headerSize
	var err error
	var raw []byte

	// Read Key if present
	if flags&hasKey != 0 {
		if raw, pos, err = readBytes(data, pos, "key"); err != nil {
			return err
		}
		msg.Key = string(raw)
	} else {
		msg.Key = ""
	}

	// Read Value if present
	if flags&hasValue != 0 {
		if raw, pos, err = readBytes(data, pos, "value"); err != nil {
			return err
		}
		msg.Value = copyBytes(msg.Value, raw)
	} else {
		msg.Value = nil
	}

	// Read Version if present
	if flags&hasVersion != 0 {
		if raw, pos, err = readBytes(data, pos, "version"); err != nil {
			return err
		}
		msg.Version = copyBytes(msg.Version, raw)
	} else {
		msg.Version = nil
	}

	// Tombstone is encoded in the flags word itself
	msg.Tombstone = flags&hasTombstone != 0

	// Read Timestamp if present
	if flags&hasTimestamp != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for timestamp")
		}
		msg.Timestamp = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		pos += 8
	} else {
		msg.Timestamp = 0
	}

	// Repair is encoded in the flags word itself
	msg.Repair = flags&hasRepair != 0

	// Read Siblings if present
	if flags&hasSiblings != 0 {
		if raw, pos, err = readBytes(data, pos, "siblings"); err != nil {
			return err
		}
		msg.Siblings = copyBytes(msg.Siblings, raw)
	} else {
		msg.Siblings = nil
	}

	// Read NodeID if present
	if flags&hasNodeID != 0 {
		if raw, pos, err = readBytes(data, pos, "node id"); err != nil {
			return err
		}
		msg.NodeID = string(raw)
	} else {
		msg.NodeID = ""
	}

	// Read Epoch if present
	if flags&hasEpoch != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for epoch")
		}
		msg.Epoch = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	} else {
		msg.Epoch = 0
	}

	// Read Members if present
	if flags&hasMembers != 0 {
		if raw, pos, err = readBytes(data, pos, "members"); err != nil {
			return err
		}
		msg.Members = copyBytes(msg.Members, raw)
	} else {
		msg.Members = nil
	}

	// Read RangeStart if present
	if flags&hasRangeStart != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for range start")
		}
		msg.RangeStart = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	} else {
		msg.RangeStart = 0
	}

	// Read RangeEnd if present
	if flags&hasRangeEnd != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for range end")
		}
		msg.RangeEnd = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	} else {
		msg.RangeEnd = 0
	}

	// Read Digest if present
	if flags&hasDigest != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for digest")
		}
		msg.Digest = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	} else {
		msg.Digest = 0
	}

	// Read Entries if present
	if flags&hasEntries != 0 {
		if raw, pos, err = readBytes(data, pos, "entries"); err != nil {
			return err
		}
		msg.Entries = copyBytes(msg.Entries, raw)
	} else {
		msg.Entries = nil
	}

	// Ok is encoded in the flags word itself
	msg.Ok = flags&hasOk != 0

	// Read Code if present
	if flags&hasCode != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for code")
		}
		msg.Code = common.Code(data[pos])
		pos += 1
	} else {
		msg.Code = common.CodeOK
	}

	// Read Err if present
	if flags&hasErr != 0 {
		if raw, pos, err = readBytes(data, pos, "error"); err != nil {
			return err
		}
		msg.Err = string(raw)
	} else {
		msg.Err = ""
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// writeBytes writes a length-prefixed byte field and returns the new position
func writeBytes(dst []byte, pos int, b []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(b)))
	pos += 4
	copy(dst[pos:pos+len(b)], b)
	return pos + len(b)
}

// readBytes reads a length-prefixed byte field and returns a sub-slice of
// data (no copy), the new position and an error if data is too short
func readBytes(data []byte, pos int, field string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s data", field)
	}
	return data[pos : pos+n], pos + n, nil
}

// copyBytes copies src into dst, reusing dst's backing array if it is large
// enough. An empty field decodes to an empty (not nil) slice.
func copyBytes(dst, src []byte) []byte {
	if dst == nil || cap(dst) < len(src) {
		dst = make([]byte, len(src))
	} else {
		dst = dst[:len(src)]
	}
	copy(dst, src)
	return dst
}

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	// Add sizes for fields that require length encoding
	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Version != nil {
		size += 4 + len(msg.Version)
	}
	if msg.Timestamp != 0 {
		size += 8
	}
	if msg.Siblings != nil {
		size += 4 + len(msg.Siblings)
	}
	if msg.NodeID != "" {
		size += 4 + len(msg.NodeID)
	}
	if msg.Epoch != 0 {
		size += 8
	}
	if msg.Members != nil {
		size += 4 + len(msg.Members)
	}
	if msg.RangeStart != 0 {
		size += 8
	}
	if msg.RangeEnd != 0 {
		size += 8
	}
	if msg.Digest != 0 {
		size += 8
	}
	if msg.Entries != nil {
		size += 4 + len(msg.Entries)
	}
	if msg.Code != common.CodeOK {
		size += 1
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}

	return size
}
