package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/qkv-io/qkv/lib/engine"
	"github.com/qkv-io/qkv/lib/hints"
	"github.com/qkv-io/qkv/lib/resolver"
	"github.com/qkv-io/qkv/lib/ring"
	"github.com/qkv-io/qkv/lib/vclock"
)

var log = logger.GetLogger("coordinator")

// Operation counters, exposed via the metrics endpoint.
var (
	writeOpsOK     = metrics.NewCounter(`qkv_coordinator_ops_total{op="write",result="ok"}`)
	writeOpsFailed = metrics.NewCounter(`qkv_coordinator_ops_total{op="write",result="error"}`)
	readOpsOK      = metrics.NewCounter(`qkv_coordinator_ops_total{op="read",result="ok"}`)
	readOpsFailed  = metrics.NewCounter(`qkv_coordinator_ops_total{op="read",result="error"}`)
	readRepairs    = metrics.NewCounter(`qkv_coordinator_read_repairs_total`)
	hintsQueued    = metrics.NewCounter(`qkv_coordinator_hints_queued_total`)
	siblingsServed = metrics.NewCounter(`qkv_coordinator_sibling_reads_total`)
)

// ErrRingChanged is returned by replica clients when a replica rejected the
// request because its ring epoch differs from the sender's. The coordinator
// reacts by taking a fresh ring snapshot and retrying the operation once.
var ErrRingChanged = errors.New("replica reported a different ring epoch")

// --------------------------------------------------------------------------
// Interface Definitions for dependency injection
// --------------------------------------------------------------------------

// IReplicaClient performs single-replica operations on behalf of the
// coordinator. The rpc server provides an implementation that short-circuits
// the local node and sends wire requests to remote ones.
type IReplicaClient interface {
	// ReplicaWrite stores one version on the given replica. PutStale and
	// PutDuplicate results are acknowledgments, not errors: the replica
	// already holds a causal descendant of v.
	ReplicaWrite(ctx context.Context, node ring.Node, key string, v engine.Versioned, repair bool) (engine.PutResult, error)
	// ReplicaRead fetches the replica's sibling set for key. found=false
	// means the replica has never seen the key.
	ReplicaRead(ctx context.Context, node ring.Node, key string) (siblings []engine.Versioned, found bool, err error)
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config holds the replication parameters of one coordinator.
type Config struct {
	LocalID string        // ID of the local node, used to increment version vectors
	N       int           // Replication factor
	W       int           // Write quorum
	R       int           // Read quorum
	Mode    resolver.Mode // Conflict resolution mode
	Timeout time.Duration // Per-operation deadline
}

// validate checks the quorum parameters.
func (c Config) validate() error {
	if c.LocalID == "" {
		return fmt.Errorf("local node id must not be empty")
	}
	if c.N < 1 {
		return fmt.Errorf("replication factor N must be at least 1, got %d", c.N)
	}
	if c.W < 1 || c.W > c.N {
		return fmt.Errorf("write quorum W must be in [1, %d], got %d", c.N, c.W)
	}
	if c.R < 1 || c.R > c.N {
		return fmt.Errorf("read quorum R must be in [1, %d], got %d", c.N, c.R)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("operation timeout must be positive, got %v", c.Timeout)
	}
	return nil
}

// --------------------------------------------------------------------------
// Coordinator
// --------------------------------------------------------------------------

// Coordinator fans client operations out to the key's replica set and
// collects quorum acknowledgments. Every node runs one; any node can
// coordinate any key.
type Coordinator struct {
	cfg    Config
	ring   *ring.Ring
	client IReplicaClient
	hints  *hints.Queue
}

// New creates a coordinator. The hint queue receives a hint for every replica
// write that fails or times out.
func New(cfg Config, rng *ring.Ring, client IReplicaClient, hintQueue *hints.Queue) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		cfg:    cfg,
		ring:   rng,
		client: client,
		hints:  hintQueue,
	}, nil
}

// --------------------------------------------------------------------------
// Client Operations
// --------------------------------------------------------------------------

// Write stores value under key. The caller's context vector (from a prior
// read, may be nil for blind writes) is incremented with the local node's ID
// so concurrent writes on different coordinators become siblings instead of
// overwriting each other. Returns the stored version vector.
func (c *Coordinator) Write(ctx context.Context, key string, value []byte, contextVector vclock.Vector) (vclock.Vector, error) {
	v := engine.NewVersioned(value, contextVector.Increment(c.cfg.LocalID))
	return c.write(ctx, key, v)
}

// Delete writes a tombstone under key. Deletes travel the write path and are
// subject to the same quorum and conflict rules as writes.
func (c *Coordinator) Delete(ctx context.Context, key string, contextVector vclock.Vector) (vclock.Vector, error) {
	v := engine.NewTombstone(contextVector.Increment(c.cfg.LocalID))
	return c.write(ctx, key, v)
}

// Read fetches key from R replicas and resolves the answers into the
// surviving sibling set. Dominated and missing replicas are repaired
// asynchronously. A result with NotFound()=true is not an error.
func (c *Coordinator) Read(ctx context.Context, key string) (resolver.Result, error) {
	result, err := c.readOnce(ctx, key)
	if errors.Is(err, ErrRingChanged) {
		log.Infof("Read of %q hit a ring epoch mismatch, retrying on fresh snapshot", key)
		result, err = c.readOnce(ctx, key)
		if errors.Is(err, ErrRingChanged) {
			err = NewError(RetCRingInconsistent, fmt.Sprintf("replicas for %q disagree about the ring after retry", key))
		}
	}
	if err != nil {
		readOpsFailed.Inc()
		return resolver.Result{}, err
	}
	readOpsOK.Inc()
	if result.HasConflict() {
		siblingsServed.Inc()
	}
	return result, nil
}

// --------------------------------------------------------------------------
// Write Path
// --------------------------------------------------------------------------

// writeResult is one replica's answer to a fanned-out write.
type writeResult struct {
	node ring.Node
	res  engine.PutResult
	err  error
}

// write runs the quorum write with a single retry on a diverged ring.
func (c *Coordinator) write(ctx context.Context, key string, v engine.Versioned) (vclock.Vector, error) {
	vec, err := c.writeOnce(ctx, key, v)
	if errors.Is(err, ErrRingChanged) {
		log.Infof("Write of %q hit a ring epoch mismatch, retrying on fresh snapshot", key)
		vec, err = c.writeOnce(ctx, key, v)
		if errors.Is(err, ErrRingChanged) {
			err = NewError(RetCRingInconsistent, fmt.Sprintf("replicas for %q disagree about the ring after retry", key))
		}
	}
	if err != nil {
		writeOpsFailed.Inc()
		return nil, err
	}
	writeOpsOK.Inc()
	return vec, nil
}

// writeOnce fans the write out to the key's replica set and returns once W
// replicas acknowledged. Stragglers keep running detached; whoever fails
// lands in the hint queue.
func (c *Coordinator) writeOnce(ctx context.Context, key string, v engine.Versioned) (vclock.Vector, error) {
	replicas := c.ring.ReplicasFor(key, c.cfg.N)
	if len(replicas) < c.cfg.W {
		return nil, NewError(RetCInsufficientQuorum,
			fmt.Sprintf("write quorum %d not reachable, ring offers %d replicas for %q", c.cfg.W, len(replicas), key))
	}

	results := make(chan writeResult, len(replicas))
	for _, node := range replicas {
		node := node
		go func() {
			// Detached from the caller's context: a quorum answer must not
			// cancel in-flight replica writes.
			rctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
			defer cancel()
			res, err := c.client.ReplicaWrite(rctx, node, key, v, false)
			results <- writeResult{node: node, res: res, err: err}
		}()
	}

	var (
		acks        = 0
		staleAcks   = 0
		pending     = len(replicas)
		ringChanged = false
		deadline    = time.After(c.cfg.Timeout)
	)

	for pending > 0 {
		select {
		case r := <-results:
			pending--
			switch {
			case errors.Is(r.err, ErrRingChanged):
				ringChanged = true
			case r.err != nil:
				log.Warningf("Replica write to %s failed, hinting: %v", r.node.ID, r.err)
				c.hint(r.node, key, v)
			default:
				acks++
				if r.res == engine.PutStale {
					staleAcks++
				}
			}

			if ringChanged {
				go c.drainWrites(results, pending, key, v)
				return nil, ErrRingChanged
			}
			if acks >= c.cfg.W {
				go c.drainWrites(results, pending, key, v)
				if staleAcks == acks {
					return nil, NewError(RetCStaleWriteRejected,
						fmt.Sprintf("version for %q is dominated on all %d acknowledging replicas", key, acks))
				}
				return v.Version, nil
			}

		case <-deadline:
			go c.drainWrites(results, pending, key, v)
			if acks > 0 {
				return nil, NewError(RetCInsufficientQuorum,
					fmt.Sprintf("only %d of %d required write acks for %q before deadline", acks, c.cfg.W, key))
			}
			return nil, NewError(RetCTimeout,
				fmt.Sprintf("no replica acknowledged write of %q within %v", key, c.cfg.Timeout))

		case <-ctx.Done():
			go c.drainWrites(results, pending, key, v)
			return nil, NewError(RetCTimeout, fmt.Sprintf("write of %q: %v", key, ctx.Err()))
		}
	}

	// Every replica answered but fewer than W acknowledged.
	return nil, NewError(RetCInsufficientQuorum,
		fmt.Sprintf("only %d of %d required write acks for %q", acks, c.cfg.W, key))
}

// drainWrites consumes straggler answers after the caller already returned,
// so late failures still produce hints.
func (c *Coordinator) drainWrites(results <-chan writeResult, remaining int, key string, v engine.Versioned) {
	for i := 0; i < remaining; i++ {
		r := <-results
		if r.err != nil && !errors.Is(r.err, ErrRingChanged) {
			log.Warningf("Straggler write to %s failed, hinting: %v", r.node.ID, r.err)
			c.hint(r.node, key, v)
		}
	}
}

// hint records a missed write for later handoff to the target replica.
func (c *Coordinator) hint(node ring.Node, key string, v engine.Versioned) {
	c.hints.Enqueue(node.ID, key, v)
	hintsQueued.Inc()
}

// --------------------------------------------------------------------------
// Read Path
// --------------------------------------------------------------------------

// readResult is one replica's answer to a fanned-out read.
type readResult struct {
	node     ring.Node
	siblings []engine.Versioned
	found    bool
	err      error
}

// readOnce fans the read out to the key's replica set and resolves the first
// R answers. Replicas that answered with dominated or no data are repaired in
// the background.
func (c *Coordinator) readOnce(ctx context.Context, key string) (resolver.Result, error) {
	replicas := c.ring.ReplicasFor(key, c.cfg.N)
	if len(replicas) < c.cfg.R {
		return resolver.Result{}, NewError(RetCInsufficientQuorum,
			fmt.Sprintf("read quorum %d not reachable, ring offers %d replicas for %q", c.cfg.R, len(replicas), key))
	}

	results := make(chan readResult, len(replicas))
	for _, node := range replicas {
		node := node
		go func() {
			rctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
			defer cancel()
			siblings, found, err := c.client.ReplicaRead(rctx, node, key)
			results <- readResult{node: node, siblings: siblings, found: found, err: err}
		}()
	}

	var (
		versions    []resolver.Version
		missing     []string
		answered    = 0
		pending     = len(replicas)
		ringChanged = false
		deadline    = time.After(c.cfg.Timeout)
	)

	for pending > 0 {
		select {
		case r := <-results:
			pending--
			switch {
			case errors.Is(r.err, ErrRingChanged):
				ringChanged = true
			case r.err != nil:
				log.Warningf("Replica read from %s failed: %v", r.node.ID, r.err)
			case !r.found:
				answered++
				missing = append(missing, r.node.ID)
			default:
				answered++
				for _, sibling := range r.siblings {
					versions = append(versions, resolver.Version{ReplicaID: r.node.ID, Versioned: sibling})
				}
			}

			if ringChanged {
				return resolver.Result{}, ErrRingChanged
			}
			if answered >= c.cfg.R {
				result := resolver.Resolve(c.cfg.Mode, versions, missing)
				go c.readRepair(key, result)
				return result, nil
			}

		case <-deadline:
			if answered > 0 {
				return resolver.Result{}, NewError(RetCInsufficientQuorum,
					fmt.Sprintf("only %d of %d required read answers for %q before deadline", answered, c.cfg.R, key))
			}
			return resolver.Result{}, NewError(RetCTimeout,
				fmt.Sprintf("no replica answered read of %q within %v", key, c.cfg.Timeout))

		case <-ctx.Done():
			return resolver.Result{}, NewError(RetCTimeout, fmt.Sprintf("read of %q: %v", key, ctx.Err()))
		}
	}

	return resolver.Result{}, NewError(RetCInsufficientQuorum,
		fmt.Sprintf("only %d of %d required read answers for %q", answered, c.cfg.R, key))
}

// readRepair pushes the surviving sibling set to every replica that answered
// with dominated data or none at all. Runs detached from the triggering read.
func (c *Coordinator) readRepair(key string, result resolver.Result) {
	if len(result.Siblings) == 0 {
		return
	}

	targets := make([]string, 0, len(result.Stale)+len(result.Missing))
	for replicaID := range result.Stale {
		targets = append(targets, replicaID)
	}
	targets = append(targets, result.Missing...)

	for _, replicaID := range targets {
		node, ok := c.ring.Node(replicaID)
		if !ok {
			continue
		}
		repaired := false
		for _, sibling := range result.Siblings {
			rctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
			_, err := c.client.ReplicaWrite(rctx, node, key, sibling, true)
			cancel()
			if err != nil {
				log.Warningf("Read repair of %q on %s failed: %v", key, replicaID, err)
				continue
			}
			repaired = true
		}
		if repaired {
			log.Debugf("Read repair of %q on %s done", key, replicaID)
			readRepairs.Inc()
		}
	}
}
