package serializer

import (
	"reflect"
	"testing"

	"github.com/qkv-io/qkv/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Replica write request
		{
			MsgType:   common.MsgTReplicaWrite,
			Key:       "test-key",
			Value:     []byte("test-value"),
			Version:   []byte{0, 0, 0, 1, 0, 4, 'n', 'o', 'd', 'e', 0, 0, 0, 0, 0, 0, 0, 7},
			Timestamp: 1756600000000,
		},

		// Replica write acknowledgment signalling a dominated version
		{
			MsgType: common.MsgTReplicaWrite,
			Ok:      true,
			Code:    common.CodeStaleWrite,
		},

		// Replica read response carrying siblings
		{
			MsgType:  common.MsgTReplicaRead,
			Key:      "test-key",
			Siblings: []byte("encoded-sibling-set"),
			Ok:       true,
		},

		// Tombstone write travelling the repair path
		{
			MsgType:   common.MsgTReplicaWrite,
			Key:       "deleted-key",
			Version:   []byte{0, 0, 0, 0},
			Tombstone: true,
			Timestamp: 1756600000123,
			Repair:    true,
		},

		// Heartbeat with ring epoch
		{
			MsgType: common.MsgTHeartbeat,
			NodeID:  "node-a",
			Epoch:   42,
		},

		// Gossip exchange
		{
			MsgType: common.MsgTGossip,
			NodeID:  "node-b",
			Members: []byte("encoded-membership-view"),
			Ok:      true,
		},

		// Merkle digest comparison for a token range
		{
			MsgType:    common.MsgTRepairDigest,
			RangeStart: 1 << 40,
			RangeEnd:   1 << 41,
			Digest:     0xdeadbeefcafe,
		},

		// Per-key digest listing
		{
			MsgType:    common.MsgTRepairKeys,
			RangeStart: 7,
			RangeEnd:   9,
			Entries:    []byte("encoded-key-digests"),
			Ok:         true,
		},

		// Error response
		{
			MsgType: common.MsgTError,
			Code:    common.CodeRingInconsistent,
			Err:     "test error message",
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// Test each message type (don't test for MsgTUnknown since this should raise an error)
			for msgType := common.MsgTSuccess; msgType <= common.MsgTRepairKeys; msgType++ {
				msg := common.Message{MsgType: msgType}

				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Check type
				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	// Test cases for empty or zero values
	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Message with empty strings and zero values",
			msg: common.Message{
				MsgType:   common.MsgTReplicaWrite,
				Key:       "",
				Value:     []byte{},
				Version:   []byte{},
				Timestamp: 0,
				Ok:        false,
				Err:       "",
			},
		},
		{
			name: "Message with empty strings but Ok=true",
			msg: common.Message{
				MsgType: common.MsgTReplicaRead,
				Key:     "",
				Ok:      true,
				Value:   nil,
			},
		},
		{
			name: "Message with empty value slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTReplicaWrite,
				Key:     "test",
				Value:   []byte{},
			},
		},
		{
			name: "Message with boolean fields only",
			msg: common.Message{
				MsgType:   common.MsgTReplicaWrite,
				Tombstone: true,
				Repair:    true,
				Ok:        true,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Serialize
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			// Deserialize
			var result common.Message
			err = serializer.Deserialize(data, &result)
			if err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			// Verify key
			if tc.msg.Key != result.Key {
				t.Errorf("Key mismatch: expected '%s', got '%s'", tc.msg.Key, result.Key)
			}

			// Verify boolean fields
			if tc.msg.Tombstone != result.Tombstone {
				t.Errorf("Tombstone mismatch: expected %v, got %v", tc.msg.Tombstone, result.Tombstone)
			}
			if tc.msg.Repair != result.Repair {
				t.Errorf("Repair mismatch: expected %v, got %v", tc.msg.Repair, result.Repair)
			}
			if tc.msg.Ok != result.Ok {
				t.Errorf("Ok mismatch: expected %v, got %v", tc.msg.Ok, result.Ok)
			}

			// Verify value semantics: nil and empty both decode without error,
			// empty encodes to empty (not nil)
			if tc.msg.Value == nil && result.Value != nil {
				t.Errorf("Value mismatch: expected nil, got %v", result.Value)
			}
			if tc.msg.Value != nil && result.Value == nil {
				t.Errorf("Value mismatch: expected non-nil, got nil")
			}
		})
	}
}

// TestBinarySerializerTruncated tests that truncated input fails cleanly
func TestBinarySerializerTruncated(t *testing.T) {
	serializer := NewBinarySerializer()

	msg := common.Message{
		MsgType:   common.MsgTReplicaWrite,
		Key:       "some-key",
		Value:     []byte("some-value"),
		Version:   []byte("vv"),
		Timestamp: 12345,
	}

	data, err := serializer.Serialize(msg)
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	for cut := 0; cut < len(data); cut++ {
		var result common.Message
		if err := serializer.Deserialize(data[:cut], &result); err == nil {
			t.Errorf("Expected error for input truncated to %d bytes", cut)
		}
	}
}
