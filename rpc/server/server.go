package server

import (
	"fmt"
	"math/rand"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/qkv-io/qkv/lib/antientropy"
	"github.com/qkv-io/qkv/lib/coordinator"
	"github.com/qkv-io/qkv/lib/engine/memory"
	"github.com/qkv-io/qkv/lib/hints"
	"github.com/qkv-io/qkv/lib/membership"
	"github.com/qkv-io/qkv/lib/resolver"
	"github.com/qkv-io/qkv/lib/ring"
	"github.com/qkv-io/qkv/rpc/client"
	"github.com/qkv-io/qkv/rpc/common"
	"github.com/qkv-io/qkv/rpc/serializer"
	"github.com/qkv-io/qkv/rpc/transport"
)

var Logger = logger.GetLogger("server")

// NewRPCServer creates a new qkv node server
// It takes a config, a server transport, a client transport and a serializer
// as parameters. Server and client transport must speak the same protocol,
// the serializer must match the one used by the peer nodes.
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		tcp.NewTCPClientTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	serverTransport transport.IRPCServerTransport,
	clientTransport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) rpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created qkv node server")
	Logger.Infof(config.String())

	return rpcServer{
		config:          config,
		serverTransport: serverTransport,
		clientTransport: clientTransport,
		serializer:      serializer,
		stopCh:          make(chan struct{}),
	}
}

type rpcServer struct {
	config          common.ServerConfig
	serverTransport transport.IRPCServerTransport
	clientTransport transport.IRPCClientTransport
	serializer      serializer.IRPCSerializer

	ring     *ring.Ring
	engine   *memory.Memory
	members  *membership.Table
	hints    *hints.Queue
	peers    *client.ReplicaClient
	coord    *coordinator.Coordinator
	repairer *antientropy.Repairer
	adapter  IRPCServerAdapter

	stopCh chan struct{}
}

func (s *rpcServer) registerTransportHandler() {
	s.serverTransport.RegisterHandler(func(senderEpoch uint64, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		// Decode the request
		err := s.serializer.Deserialize(req, &msg)
		if err != nil {
			respMsg = &common.Message{
				MsgType: common.MsgTError,
				Code:    common.CodeInternal,
				Err:     fmt.Sprintf("failed to deserialize request: %s", err),
			}
		} else {
			// Let the adapter handle the request
			respMsg = s.adapter.Handle(senderEpoch, &msg)
		}

		// Return result
		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %s", err)
			return nil
		}
		return val
	})
}

func (s *rpcServer) init() error {

	// Init logger
	common.InitLoggers(s.config)

	cfg := &s.config
	quorum := cfg.Quorum
	if err := quorum.Validate(); err != nil {
		return err
	}

	mode, err := resolver.ParseMode(cfg.ConsistencyMode)
	if err != nil {
		return err
	}

	// Storage engine with background tombstone reaping
	s.engine = memory.New(&memory.Options{
		TombstoneTTL: time.Duration(cfg.TombstoneTTLHours) * time.Hour,
	})

	// Consistent-hash ring seeded with the local node and the static peers
	s.ring = ring.New()
	if err := s.ring.AddNode(ring.Node{ID: cfg.NodeID, Addr: cfg.Endpoint, State: ring.StateAlive}, cfg.VNodeCount); err != nil {
		return err
	}
	for _, peer := range cfg.Peers {
		if peer.ID == cfg.NodeID {
			continue
		}
		if err := s.ring.AddNode(ring.Node{ID: peer.ID, Addr: peer.Addr, State: ring.StateAlive}, cfg.VNodeCount); err != nil {
			return err
		}
	}

	// Membership table with the static peers as seeds
	s.members = membership.New(cfg.NodeID, cfg.Endpoint, membership.Config{
		SuspectTimeout: cfg.SuspectTimeout(),
		DeadTimeout:    cfg.DeadTimeout(),
		CheckInterval:  cfg.HeartbeatInterval(),
	})
	for _, peer := range cfg.Peers {
		if peer.ID != cfg.NodeID {
			s.members.AddSeed(peer.ID, peer.Addr)
		}
	}

	// RPC client for all peer traffic. Frames carry the current ring epoch.
	s.peers, err = client.NewReplicaClient(common.ClientConfig{
		TimeoutSecond: int(cfg.TimeoutSecond),
		Transport: common.ClientTransportConfig{
			Endpoints:       peerEndpoints(cfg.Peers, cfg.NodeID),
			TCPNoDelay:      cfg.Transport.TCPNoDelay,
			TCPKeepAliveSec: cfg.Transport.TCPKeepAliveSec,
			ReadBufferSize:  cfg.Transport.ReadBufferSize,
			WriteBufferSize: cfg.Transport.WriteBufferSize,
		},
	}, s.clientTransport, s.serializer, s.ring.Epoch)
	if err != nil {
		return fmt.Errorf("failed to connect peer client: %w", err)
	}

	s.hints = hints.New(&hints.Options{
		MaxPerTarget: cfg.MaxHintsPerNode,
		TTL:          time.Duration(cfg.HintTTLMinutes) * time.Minute,
	})

	nodes := newNodeClient(cfg.NodeID, s.engine, s.peers)

	s.coord, err = coordinator.New(coordinator.Config{
		LocalID: cfg.NodeID,
		N:       quorum.N,
		W:       quorum.W,
		R:       quorum.R,
		Mode:    mode,
		Timeout: cfg.RPCTimeout(),
	}, s.ring, nodes, s.hints)
	if err != nil {
		return err
	}

	repairCfg := antientropy.DefaultConfig(cfg.NodeID, quorum.N)
	if cfg.RepairIntervalSec > 0 {
		repairCfg.Interval = time.Duration(cfg.RepairIntervalSec) * time.Second
	}
	s.repairer = antientropy.New(repairCfg, s.ring, s.engine, s.members, nodes, s.hints)

	s.adapter = NewReplicaServerAdapter(cfg.NodeID, quorum.N, s.ring, s.engine, s.members, s.repairer)

	// Membership transitions drive the ring view. A node coming back Alive
	// kicks the repairer so queued hints drain promptly.
	s.members.Subscribe(func(change membership.Change) {
		Logger.Infof("member %s: %s -> %s", change.Member.ID, change.From, change.To)
		if err := s.ring.AddNode(ring.Node{
			ID:    change.Member.ID,
			Addr:  change.Member.Addr,
			State: ringState(change.To),
		}, cfg.VNodeCount); err != nil {
			Logger.Errorf("failed to add member %s to ring: %s", change.Member.ID, err)
			return
		}
		s.ring.SetNodeState(change.Member.ID, ringState(change.To))
		if change.To == membership.Alive {
			s.repairer.Trigger()
		}
	})

	Logger.Infof("qkv node setup completed successfully")

	// Configure the transport layer
	s.registerTransportHandler()

	return nil
}

// Serve starts the node: the failure detector, the gossip loop, the
// anti-entropy repairer, the HTTP client API and finally the RPC transport.
// It blocks until the transport stops listening.
func (s *rpcServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}

	s.members.Start()
	s.repairer.Start()
	go s.gossipLoop()

	if s.config.HTTPAddr != "" {
		api := newHTTPServer(s.config.HTTPAddr, s.coord, s.ring, s.members)
		go func() {
			Logger.Infof("HTTP API listening on %s", s.config.HTTPAddr)
			if err := api.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				Logger.Errorf("HTTP API stopped: %s", err)
			}
		}()
	}

	return s.serverTransport.Listen(s.config)
}

// Close stops the background loops and releases the peer connections.
func (s *rpcServer) Close() error {
	close(s.stopCh)
	s.repairer.Stop()
	s.members.Stop()
	if err := s.peers.Close(); err != nil {
		return err
	}
	return s.engine.Close()
}

// --------------------------------------------------------------------------
// Gossip / Heartbeat Loop
// --------------------------------------------------------------------------

// gossipLoop probes every known peer each heartbeat interval and exchanges
// the full membership view with one randomly chosen peer (push-pull).
func (s *rpcServer) gossipLoop() {
	ticker := time.NewTicker(s.config.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			peers := s.remoteMembers()
			if len(peers) == 0 {
				continue
			}

			for _, peer := range peers {
				go s.probe(peer)
			}
			go s.gossip(peers[rand.Intn(len(peers))])
		}
	}
}

func (s *rpcServer) remoteMembers() []membership.Member {
	var out []membership.Member
	for _, m := range s.members.Snapshot() {
		if m.ID != s.config.NodeID {
			out = append(out, m)
		}
	}
	return out
}

func (s *rpcServer) probe(peer membership.Member) {
	peerID, _, err := s.peers.Heartbeat(peer.Addr, s.config.NodeID)
	if err != nil {
		Logger.Debugf("heartbeat to %s (%s) failed: %s", peer.ID, peer.Addr, err)
		return
	}
	s.members.Heartbeat(peerID)
}

func (s *rpcServer) gossip(peer membership.Member) {
	local, err := membership.MarshalMembers(s.members.Snapshot())
	if err != nil {
		Logger.Errorf("failed to encode membership view: %s", err)
		return
	}
	encoded, err := s.peers.Gossip(peer.Addr, s.config.NodeID, local)
	if err != nil {
		Logger.Debugf("gossip to %s (%s) failed: %s", peer.ID, peer.Addr, err)
		return
	}
	remote, err := membership.UnmarshalMembers(encoded)
	if err != nil {
		Logger.Errorf("failed to decode membership view from %s: %s", peer.ID, err)
		return
	}
	s.members.Merge(remote)
	s.members.Heartbeat(peer.ID)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func ringState(status membership.Status) ring.NodeState {
	switch status {
	case membership.Alive:
		return ring.StateAlive
	case membership.Suspect:
		return ring.StateSuspect
	default:
		return ring.StateDead
	}
}

func peerEndpoints(peers []common.Peer, localID string) []string {
	var out []string
	for _, p := range peers {
		if p.ID != localID {
			out = append(out, p.Addr)
		}
	}
	return out
}
