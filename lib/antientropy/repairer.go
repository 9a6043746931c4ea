package antientropy

import (
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/qkv-io/qkv/lib/engine"
	"github.com/qkv-io/qkv/lib/hints"
	"github.com/qkv-io/qkv/lib/membership"
	"github.com/qkv-io/qkv/lib/ring"
)

var log = logger.GetLogger("antientropy")

var (
	repairRounds   = metrics.NewCounter(`qkv_antientropy_rounds_total`)
	keysRepaired   = metrics.NewCounter(`qkv_antientropy_keys_repaired_total`)
	hintsReplayed  = metrics.NewCounter(`qkv_antientropy_hints_replayed_total`)
	rangesDiverged = metrics.NewCounter(`qkv_antientropy_ranges_diverged_total`)
)

// --------------------------------------------------------------------------
// Interface Definitions for dependency injection
// --------------------------------------------------------------------------

// IPeerClient performs the repair exchange with one peer. The rpc server
// provides an implementation over the wire client.
type IPeerClient interface {
	// RangeDigest compares the Merkle root digest of a token range with the
	// peer. match=true means the range is identical on both sides.
	RangeDigest(node ring.Node, start, end, digest uint64) (match bool, err error)
	// RangeKeys fetches the peer's per-key digests for a token range.
	RangeKeys(node ring.Node, start, end uint64) ([]KeyDigest, error)
	// FetchSiblings fetches the peer's sibling set for one key.
	FetchSiblings(node ring.Node, key string) ([]engine.Versioned, bool, error)
	// PushVersion stores one version on the peer as a repair write.
	PushVersion(node ring.Node, key string, v engine.Versioned) error
}

// IAliveSource answers liveness queries. Hint replay only targets nodes the
// failure detector currently reports Alive.
type IAliveSource interface {
	Status(nodeID string) membership.Status
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config holds the anti-entropy parameters of one node.
type Config struct {
	LocalID   string        // ID of the local node
	N         int           // Replication factor, determines repair peers per range
	Interval  time.Duration // Pause between repair rounds
	HintBatch int           // Hints delivered per target per round
}

// DefaultConfig returns the production defaults.
func DefaultConfig(localID string, n int) Config {
	return Config{
		LocalID:   localID,
		N:         n,
		Interval:  30 * time.Second,
		HintBatch: 128,
	}
}

// --------------------------------------------------------------------------
// Repairer
// --------------------------------------------------------------------------

// Repairer runs the background anti-entropy loop: replaying hints to revived
// nodes and converging the replica sets of all locally owned token ranges via
// Merkle tree comparison.
type Repairer struct {
	cfg     Config
	ring    *ring.Ring
	eng     engine.Engine
	members IAliveSource
	client  IPeerClient
	hints   *hints.Queue

	kick   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a repairer. Call Start to run the background loop.
func New(cfg Config, rng *ring.Ring, eng engine.Engine, members IAliveSource, client IPeerClient, hintQueue *hints.Queue) *Repairer {
	def := DefaultConfig(cfg.LocalID, cfg.N)
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.HintBatch <= 0 {
		cfg.HintBatch = def.HintBatch
	}
	return &Repairer{
		cfg:     cfg,
		ring:    rng,
		eng:     eng,
		members: members,
		client:  client,
		hints:   hintQueue,
		kick:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the background repair loop.
func (r *Repairer) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.RunOnce()
			case <-r.kick:
				r.RunOnce()
			case <-r.stopCh:
				return
			}
		}
	}()
	log.Infof("Anti-entropy loop started, interval %v", r.cfg.Interval)
}

// Stop terminates the background loop and waits for it to finish.
func (r *Repairer) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// Trigger schedules an immediate repair round, e.g. after a membership
// change. Non-blocking; a pending trigger is collapsed.
func (r *Repairer) Trigger() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// RunOnce executes one full round: hint replay, then range repair against
// every replica peer of every owned range.
func (r *Repairer) RunOnce() {
	repairRounds.Inc()
	r.replayHints()
	r.repairOwnedRanges()
}

// --------------------------------------------------------------------------
// Hinted Handoff Replay
// --------------------------------------------------------------------------

// replayHints delivers queued hints to every target the failure detector
// reports Alive again. Undeliverable hints go back to the front of the queue.
func (r *Repairer) replayHints() {
	for _, target := range r.hints.Targets() {
		if r.members.Status(target) != membership.Alive {
			continue
		}
		node, ok := r.ring.Node(target)
		if !ok {
			continue
		}

		batch := r.hints.Drain(target, r.cfg.HintBatch)
		for i, hint := range batch {
			if err := r.client.PushVersion(node, hint.Key, hint.Version); err != nil {
				log.Warningf("Hint delivery to %s failed after %d hints, requeueing: %v", target, i, err)
				r.hints.Requeue(target, batch[i:])
				break
			}
			hintsReplayed.Inc()
		}
	}
}

// --------------------------------------------------------------------------
// Range Repair
// --------------------------------------------------------------------------

// repairOwnedRanges converges every owned token range with its replica peers.
func (r *Repairer) repairOwnedRanges() {
	for _, rng := range r.ring.OwnedRanges(r.cfg.LocalID) {
		for _, peer := range r.peersFor(rng) {
			if err := r.RepairRange(peer, rng); err != nil {
				log.Warningf("Range repair (%d, %d] with %s failed: %v", rng.Start, rng.End, peer.ID, err)
			}
		}
	}
}

// peersFor returns the other replicas of a token range.
func (r *Repairer) peersFor(rng ring.TokenRange) []ring.Node {
	replicas := r.ring.ReplicasForHash(rng.End, r.cfg.N)
	peers := make([]ring.Node, 0, len(replicas))
	for _, node := range replicas {
		if node.ID != r.cfg.LocalID {
			peers = append(peers, node)
		}
	}
	return peers
}

// RepairRange converges one token range with one peer. Root digests are
// compared first; only on mismatch are per-key digests exchanged and the
// differing keys synchronized in both directions.
func (r *Repairer) RepairRange(peer ring.Node, rng ring.TokenRange) error {
	local, err := r.localEntries(rng)
	if err != nil {
		return fmt.Errorf("scanning local range: %v", err)
	}

	match, err := r.client.RangeDigest(peer, rng.Start, rng.End, rootDigest(local))
	if err != nil {
		return fmt.Errorf("digest exchange: %v", err)
	}
	if match {
		return nil
	}
	rangesDiverged.Inc()

	remote, err := r.client.RangeKeys(peer, rng.Start, rng.End)
	if err != nil {
		return fmt.Errorf("key digest exchange: %v", err)
	}

	for _, key := range diffEntries(local, remote) {
		if err := r.syncKey(peer, key); err != nil {
			return fmt.Errorf("syncing %q: %v", key, err)
		}
		keysRepaired.Inc()
	}
	return nil
}

// syncKey converges one key in both directions: the peer's siblings are
// merged locally, then the merged local set is pushed back.
func (r *Repairer) syncKey(peer ring.Node, key string) error {
	remoteSiblings, found, err := r.client.FetchSiblings(peer, key)
	if err != nil {
		return err
	}
	if found {
		for _, sibling := range remoteSiblings {
			if _, err := r.eng.Put(key, sibling); err != nil {
				return err
			}
		}
	}

	localSiblings, found, err := r.eng.Get(key)
	if err != nil || !found {
		return err
	}
	for _, sibling := range localSiblings {
		if err := r.client.PushVersion(peer, key, sibling); err != nil {
			return err
		}
	}
	return nil
}

// localEntries scans the engine for keys hashing into the range and digests
// their sibling sets.
func (r *Repairer) localEntries(rng ring.TokenRange) ([]KeyDigest, error) {
	var entries []KeyDigest
	err := r.eng.Scan(func(key string, siblings []engine.Versioned) bool {
		if rng.Contains(ring.KeyHash(key)) {
			entries = append(entries, KeyDigest{Key: key, Digest: DigestSiblings(key, siblings)})
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// LocalEntries exposes the range scan for the rpc server, which answers the
// peer side of the repair exchange.
func (r *Repairer) LocalEntries(rng ring.TokenRange) ([]KeyDigest, error) {
	return r.localEntries(rng)
}

// LocalRootDigest computes the Merkle root of a local token range for the
// peer side of the digest exchange.
func (r *Repairer) LocalRootDigest(rng ring.TokenRange) (uint64, error) {
	entries, err := r.localEntries(rng)
	if err != nil {
		return 0, err
	}
	return rootDigest(entries), nil
}
