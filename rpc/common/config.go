package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Quorum configuration
// --------------------------------------------------------------------------

// QuorumConfig holds the tunable replication parameters of the cluster.
// With R + W > N a read quorum and a write quorum always intersect, which
// yields read-your-writes for a single client with no interleaving writers.
type QuorumConfig struct {
	// N is the replication factor: how many distinct physical nodes hold
	// each key.
	N int
	// W is the number of replica acknowledgments a write needs.
	W int
	// R is the number of replica responses a read needs.
	R int
}

// Validate checks basic sanity of the quorum parameters.
func (q QuorumConfig) Validate() error {
	if q.N <= 0 {
		return fmt.Errorf("replication factor N must be positive, got %d", q.N)
	}
	if q.W <= 0 || q.W > q.N {
		return fmt.Errorf("write quorum W must be in [1, N=%d], got %d", q.N, q.W)
	}
	if q.R <= 0 || q.R > q.N {
		return fmt.Errorf("read quorum R must be in [1, N=%d], got %d", q.N, q.R)
	}
	return nil
}

// Strong reports whether the configuration guarantees overlapping read and
// write quorums.
func (q QuorumConfig) Strong() bool {
	return q.R+q.W > q.N
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// Peer is one statically configured cluster seed.
type Peer struct {
	ID   string
	Addr string
}

// ServerConfig holds all configuration parameters for one qkv node.
type ServerConfig struct {
	// Node identity
	NodeID   string
	Endpoint string // inter-node RPC listen address
	HTTPAddr string // client REST API listen address
	Peers    []Peer // cluster seeds, format id=addr

	// Partitioning and replication
	VNodeCount int
	Quorum     QuorumConfig

	// Consistency
	ConsistencyMode string // "sibling-preserving" or "lww"

	// Failure detection
	HeartbeatIntervalMS int64
	SuspectTimeoutMS    int64
	DeadTimeoutMS       int64

	// Replica RPC
	TimeoutSecond int64

	// Anti-entropy and hinted handoff
	RepairIntervalSec int64
	HintTTLMinutes    int64
	MaxHintsPerNode   int
	TombstoneTTLHours int64

	// Transport tuning
	Transport TransportConfig

	// Logging configuration
	LogLevel string
}

// TransportConfig carries the socket-level tuning options shared by server
// and client transports.
type TransportConfig struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
	ReadBufferSize  int
	WriteBufferSize int
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (c *ServerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// SuspectTimeout returns the suspect timeout as a duration.
func (c *ServerConfig) SuspectTimeout() time.Duration {
	return time.Duration(c.SuspectTimeoutMS) * time.Millisecond
}

// DeadTimeout returns the dead timeout as a duration.
func (c *ServerConfig) DeadTimeout() time.Duration {
	return time.Duration(c.DeadTimeoutMS) * time.Millisecond
}

// RPCTimeout returns the per-replica RPC deadline as a duration.
func (c *ServerConfig) RPCTimeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// ParsePeers parses a comma-separated "id1=addr1,id2=addr2" peer list.
func ParsePeers(s string) ([]Peer, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []Peer
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" || strings.TrimSpace(kv[1]) == "" {
			return nil, fmt.Errorf("invalid peer %q (expected id=addr)", part)
		}
		out = append(out, Peer{ID: strings.TrimSpace(kv[0]), Addr: strings.TrimSpace(kv[1])})
	}
	return out, nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Node Identity")
	addField("Node ID", c.NodeID)
	addField("RPC Endpoint", c.Endpoint)
	addField("HTTP API", c.HTTPAddr)

	addSection("Replication")
	addField("N / W / R", fmt.Sprintf("%d / %d / %d", c.Quorum.N, c.Quorum.W, c.Quorum.R))
	addField("Strong Quorum (R+W>N)", strconv.FormatBool(c.Quorum.Strong()))
	addField("Virtual Nodes", strconv.Itoa(c.VNodeCount))
	addField("Consistency Mode", c.ConsistencyMode)

	addSection("Failure Detection")
	addField("Heartbeat Interval", fmt.Sprintf("%d ms", c.HeartbeatIntervalMS))
	addField("Suspect Timeout", fmt.Sprintf("%d ms", c.SuspectTimeoutMS))
	addField("Dead Timeout", fmt.Sprintf("%d ms", c.DeadTimeoutMS))

	addSection("Repair")
	addField("Repair Interval", fmt.Sprintf("%d sec", c.RepairIntervalSec))
	addField("Hint TTL", fmt.Sprintf("%d min", c.HintTTLMinutes))
	addField("Max Hints Per Node", strconv.Itoa(c.MaxHintsPerNode))
	addField("Tombstone TTL", fmt.Sprintf("%d h", c.TombstoneTTLHours))

	addSection("RPC")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	if len(c.Peers) > 0 {
		addSection("Cluster Seeds")
		peers := make([]Peer, len(c.Peers))
		copy(peers, c.Peers)
		sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
		for _, p := range peers {
			addField(p.ID, p.Addr)
		}
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures an inter-node RPC client.
type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// ClientTransportConfig carries the transport-level client options.
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
	TCPNoDelay             bool
	TCPKeepAliveSec        int
	ReadBufferSize         int
	WriteBufferSize        int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(maxInt(1, c.Transport.ConnectionsPerEndpoint)))

	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
