package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single inter-node message used for both requests and
// responses. Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Key/value fields (ReplicaWrite, ReplicaRead)
	Key       string `json:"key,omitempty"`       // Key the operation applies to
	Value     []byte `json:"value,omitempty"`     // Payload for ReplicaWrite
	Version   []byte `json:"version,omitempty"`   // Encoded version vector (vclock codec)
	Tombstone bool   `json:"tombstone,omitempty"` // Marks a delete travelling the write path
	Timestamp int64  `json:"timestamp,omitempty"` // Coordinator wall clock, unix millis
	Repair    bool   `json:"repair,omitempty"`    // Read-repair / anti-entropy write
	Siblings  []byte `json:"siblings,omitempty"`  // Encoded sibling set (ReplicaRead response)

	// Cluster fields (Heartbeat, Gossip)
	NodeID  string `json:"node_id,omitempty"` // Sending node
	Epoch   uint64 `json:"epoch,omitempty"`   // Sender's ring epoch
	Members []byte `json:"members,omitempty"` // Encoded membership view (gossip codec)

	// Anti-entropy fields (RepairDigest, RepairKeys)
	RangeStart uint64 `json:"range_start,omitempty"` // Token range start (exclusive)
	RangeEnd   uint64 `json:"range_end,omitempty"`   // Token range end (inclusive)
	Digest     uint64 `json:"digest,omitempty"`      // Merkle root digest of the range
	Entries    []byte `json:"entries,omitempty"`     // Encoded per-key digests (RepairKeys response)

	// Response fields
	Ok   bool   `json:"ok,omitempty"`   // Operation-level success/found flag
	Code Code   `json:"code,omitempty"` // Fine-grained response code
	Err  string `json:"err,omitempty"`  // Empty if no error
}

// --------------------------------------------------------------------------
// Response Codes
// --------------------------------------------------------------------------

// Code classifies a replica's answer beyond the Ok flag.
type Code uint8

const (
	CodeOK Code = iota
	// CodeStaleWrite: the write was dominated by the replica's stored
	// version. Still counted as an acknowledgment, since the replica holds
	// a causal descendant of the data.
	CodeStaleWrite
	// CodeDuplicateWrite: an identical version was already stored.
	CodeDuplicateWrite
	// CodeRingInconsistent: the sender's ring epoch does not match the
	// replica's. The sender should refresh its ring snapshot and retry once.
	CodeRingInconsistent
	// CodeInternal: the replica's storage engine failed. Treated by the
	// coordinator like a timeout.
	CodeInternal
)

// String returns the string representation of a Code.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeStaleWrite:
		return "stale-write"
	case CodeDuplicateWrite:
		return "duplicate-write"
	case CodeRingInconsistent:
		return "ring-inconsistent"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewReplicaWriteRequest creates a write request for one replica.
func NewReplicaWriteRequest(key string, value, version []byte, tombstone bool, timestamp int64, repair bool) *Message {
	return &Message{
		MsgType:   MsgTReplicaWrite,
		Key:       key,
		Value:     value,
		Version:   version,
		Tombstone: tombstone,
		Timestamp: timestamp,
		Repair:    repair,
	}
}

// NewReplicaWriteResponse creates a write acknowledgment.
func NewReplicaWriteResponse(code Code, err error) *Message {
	msg := &Message{MsgType: MsgTReplicaWrite, Ok: err == nil, Code: code}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewReplicaReadRequest creates a read request for one replica.
func NewReplicaReadRequest(key string) *Message {
	return &Message{MsgType: MsgTReplicaRead, Key: key}
}

// NewReplicaReadResponse creates a read response carrying the encoded
// sibling set. found=false means the replica has never seen the key.
func NewReplicaReadResponse(siblings []byte, found bool, err error) *Message {
	msg := &Message{MsgType: MsgTReplicaRead, Ok: found, Siblings: siblings}
	if err != nil {
		msg.Err = err.Error()
		msg.Code = CodeInternal
	}
	return msg
}

// NewHeartbeatRequest creates a failure-detection heartbeat.
func NewHeartbeatRequest(nodeID string, epoch uint64) *Message {
	return &Message{MsgType: MsgTHeartbeat, NodeID: nodeID, Epoch: epoch}
}

// NewHeartbeatResponse creates a heartbeat acknowledgment carrying the
// responder's ring epoch.
func NewHeartbeatResponse(nodeID string, epoch uint64) *Message {
	return &Message{MsgType: MsgTHeartbeat, NodeID: nodeID, Epoch: epoch, Ok: true}
}

// NewGossipRequest creates a membership exchange request.
func NewGossipRequest(nodeID string, members []byte) *Message {
	return &Message{MsgType: MsgTGossip, NodeID: nodeID, Members: members}
}

// NewGossipResponse creates a membership exchange response with the
// responder's own view (push-pull gossip).
func NewGossipResponse(nodeID string, members []byte) *Message {
	return &Message{MsgType: MsgTGossip, NodeID: nodeID, Members: members, Ok: true}
}

// NewRepairDigestRequest asks a replica to compare a token range digest.
func NewRepairDigestRequest(start, end, digest uint64) *Message {
	return &Message{
		MsgType:    MsgTRepairDigest,
		RangeStart: start,
		RangeEnd:   end,
		Digest:     digest,
	}
}

// NewRepairDigestResponse reports whether the responder's range digest
// matches. match=true means the range is in sync.
func NewRepairDigestResponse(match bool, digest uint64) *Message {
	return &Message{MsgType: MsgTRepairDigest, Ok: match, Digest: digest}
}

// NewRepairKeysRequest asks a replica for its per-key digests in a range.
func NewRepairKeysRequest(start, end uint64) *Message {
	return &Message{MsgType: MsgTRepairKeys, RangeStart: start, RangeEnd: end}
}

// NewRepairKeysResponse carries the responder's encoded per-key digests.
func NewRepairKeysResponse(entries []byte, err error) *Message {
	msg := &Message{MsgType: MsgTRepairKeys, Ok: err == nil, Entries: entries}
	if err != nil {
		msg.Err = err.Error()
		msg.Code = CodeInternal
	}
	return msg
}

// NewErrorResponse creates a generic error response.
func NewErrorResponse(code Code, err string) *Message {
	return &Message{MsgType: MsgTError, Code: code, Err: err}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in inter-node communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTReplicaWrite:
		return "replicaWrite"
	case MsgTReplicaRead:
		return "replicaRead"
	case MsgTHeartbeat:
		return "heartbeat"
	case MsgTGossip:
		return "gossip"
	case MsgTRepairDigest:
		return "repairDigest"
	case MsgTRepairKeys:
		return "repairKeys"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "replicaWrite":
		*t = MsgTReplicaWrite
	case "replicaRead":
		*t = MsgTReplicaRead
	case "heartbeat":
		*t = MsgTHeartbeat
	case "gossip":
		*t = MsgTGossip
	case "repairDigest":
		*t = MsgTRepairDigest
	case "repairKeys":
		*t = MsgTRepairKeys
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Replica operations (replication coordinator <-> storage replica)

	MsgTReplicaWrite // Store one version on a replica
	MsgTReplicaRead  // Fetch a key's sibling set from a replica

	// Cluster operations

	MsgTHeartbeat // Failure-detection heartbeat with ring epoch
	MsgTGossip    // Push-pull membership state exchange

	// Anti-entropy operations

	MsgTRepairDigest // Compare the Merkle digest of a token range
	MsgTRepairKeys   // Fetch per-key digests for a differing range
)
