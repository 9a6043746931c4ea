package serve

import (
	"fmt"

	"github.com/google/uuid"
	cmdUtil "github.com/qkv-io/qkv/cmd/util"
	"github.com/qkv-io/qkv/rpc/common"
	"github.com/qkv-io/qkv/rpc/serializer"
	"github.com/qkv-io/qkv/rpc/server"
	"github.com/qkv-io/qkv/rpc/transport"
	"github.com/qkv-io/qkv/rpc/transport/tcp"
	"github.com/qkv-io/qkv/rpc/transport/unix"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a qkv node",
		Long:    `Start a qkv node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is QKV_<flag> (e.g. QKV_NODE_ID=node-1)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "node-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Unique identifier of this node (e.g. 'node-1'). A random id is generated if empty. Nodes must keep their id across restarts to reclaim their ring positions"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the inter-node RPC transport will listen (host:port for tcp, a socket path for unix)"))

	key = "http-addr"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9080", cmdUtil.WrapString("The address on which the client HTTP API will listen. Empty disables the HTTP API"))

	key = "peers"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of seed nodes in the format 'node-1=localhost:8081,node-2=localhost:8082,...'. Further nodes are discovered via gossip"))

	key = "vnodes"
	ServeCmd.PersistentFlags().Int(key, 128, cmdUtil.WrapString("Number of virtual nodes each node places on the consistent-hash ring. More vnodes smooth the key distribution at the cost of larger ring state"))

	key = "replication"
	ServeCmd.PersistentFlags().Int(key, 3, cmdUtil.WrapString("Replication factor N: how many replicas store each key"))

	key = "write-quorum"
	ServeCmd.PersistentFlags().Int(key, 2, cmdUtil.WrapString("Write quorum W: how many replicas must acknowledge a write. W+R > N gives read-your-writes consistency"))

	key = "read-quorum"
	ServeCmd.PersistentFlags().Int(key, 2, cmdUtil.WrapString("Read quorum R: how many replicas must answer a read"))

	key = "consistency-mode"
	ServeCmd.PersistentFlags().String(key, "sibling-preserving", cmdUtil.WrapString("Conflict handling: 'sibling-preserving' returns all concurrent versions to the client, 'lww' keeps only the version with the highest timestamp"))

	key = "heartbeat-interval"
	ServeCmd.PersistentFlags().Int64(key, 500, cmdUtil.WrapString("Interval in milliseconds between heartbeat probes and gossip exchanges"))

	key = "suspect-timeout"
	ServeCmd.PersistentFlags().Int64(key, 2000, cmdUtil.WrapString("Silence in milliseconds after which a peer is marked Suspect and stops serving as a read target"))

	key = "dead-timeout"
	ServeCmd.PersistentFlags().Int64(key, 10000, cmdUtil.WrapString("Silence in milliseconds after which a peer is marked Dead and writes for it are hinted to other nodes"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Per-operation deadline in seconds for coordinated reads and writes"))

	key = "repair-interval"
	ServeCmd.PersistentFlags().Int64(key, 30, cmdUtil.WrapString("Interval in seconds between anti-entropy rounds (Merkle digest comparison and hint replay)"))

	key = "hint-ttl"
	ServeCmd.PersistentFlags().Int64(key, 180, cmdUtil.WrapString("Lifetime in minutes of a hinted write. Hints older than this are dropped, leaving the repair to anti-entropy"))

	key = "max-hints"
	ServeCmd.PersistentFlags().Int(key, 1024, cmdUtil.WrapString("Maximum number of hinted writes buffered per unreachable node"))

	key = "tombstone-ttl"
	ServeCmd.PersistentFlags().Int64(key, 24, cmdUtil.WrapString("Retention in hours of delete markers before they are reaped"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "transport-tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY for the inter-node transport"))

	key = "transport-tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval for the inter-node transport (in seconds)"))

	key = "transport-write-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the write buffer for the inter-node transport (in KB)"))

	key = "transport-read-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the read buffer for the inter-node transport (in KB)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := viper.BindPFlags(cmd.InheritedFlags()); err != nil {
		return err
	}

	// node identity
	serveCmdConfig.NodeID = viper.GetString("node-id")
	if serveCmdConfig.NodeID == "" {
		serveCmdConfig.NodeID = uuid.NewString()
	}
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.HTTPAddr = viper.GetString("http-addr")

	// cluster seeds
	peers, err := common.ParsePeers(viper.GetString("peers"))
	if err != nil {
		return err
	}
	serveCmdConfig.Peers = peers

	// partitioning and replication
	serveCmdConfig.VNodeCount = viper.GetInt("vnodes")
	serveCmdConfig.Quorum = common.QuorumConfig{
		N: viper.GetInt("replication"),
		W: viper.GetInt("write-quorum"),
		R: viper.GetInt("read-quorum"),
	}
	if err := serveCmdConfig.Quorum.Validate(); err != nil {
		return err
	}
	serveCmdConfig.ConsistencyMode = viper.GetString("consistency-mode")

	// timing
	serveCmdConfig.HeartbeatIntervalMS = viper.GetInt64("heartbeat-interval")
	serveCmdConfig.SuspectTimeoutMS = viper.GetInt64("suspect-timeout")
	serveCmdConfig.DeadTimeoutMS = viper.GetInt64("dead-timeout")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.RepairIntervalSec = viper.GetInt64("repair-interval")
	serveCmdConfig.HintTTLMinutes = viper.GetInt64("hint-ttl")
	serveCmdConfig.MaxHintsPerNode = viper.GetInt("max-hints")
	serveCmdConfig.TombstoneTTLHours = viper.GetInt64("tombstone-ttl")

	// transport tuning
	serveCmdConfig.Transport = common.TransportConfig{
		TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
		WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
	}

	serveCmdConfig.LogLevel = viper.GetString("log-level")

	return nil
}

// run starts the qkv node
func run(_ *cobra.Command, _ []string) error {

	// parse the serializer
	var s serializer.IRPCSerializer
	switch viper.GetString("serializer") {
	case "json":
		s = serializer.NewJSONSerializer()
	case "gob":
		s = serializer.NewGOBSerializer()
	case "binary":
		s = serializer.NewBinarySerializer()
	default:
		return fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}

	// Parse the transport
	var st transport.IRPCServerTransport
	var ct transport.IRPCClientTransport
	switch viper.GetString("transport") {
	case "tcp":
		st = tcp.NewTCPServerTransport()
		ct = tcp.NewTCPClientTransport()
	case "unix":
		st = unix.NewUnixServerTransport()
		ct = unix.NewUnixClientTransport()
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		st,
		ct,
		s,
	)

	return serv.Serve()
}
