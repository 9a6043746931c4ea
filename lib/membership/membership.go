package membership

import (
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("membership")

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Status is the liveness state of a member.
type Status int

const (
	Alive Status = iota
	Suspect
	Dead
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case Alive:
		return "alive"
	case Suspect:
		return "suspect"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Member is the tracked state of one cluster node.
type Member struct {
	ID          string
	Addr        string
	Status      Status
	Incarnation uint64
	LastSeen    time.Time
}

// Change describes one state transition of a member.
type Change struct {
	Member Member
	From   Status
	To     Status
}

// OnChange is a subscriber callback. It is invoked from a dedicated
// goroutine and must not block indefinitely.
type OnChange func(Change)

// Config holds the failure-detection timing parameters.
type Config struct {
	// SuspectTimeout is the silence after which an Alive member becomes Suspect.
	SuspectTimeout time.Duration
	// DeadTimeout is the silence after which a Suspect member becomes Dead.
	DeadTimeout time.Duration
	// CheckInterval is how often the timeout sweep runs.
	CheckInterval time.Duration
}

// DefaultConfig returns the timing parameters used when a field is zero.
func DefaultConfig() Config {
	return Config{
		SuspectTimeout: 3 * time.Second,
		DeadTimeout:    10 * time.Second,
		CheckInterval:  500 * time.Millisecond,
	}
}

// Table tracks all known cluster members for the local node.
type Table struct {
	mu      sync.RWMutex
	localID string
	members map[string]*Member
	subs    []OnChange
	cfg     Config

	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time // swappable for tests
}

// --------------------------------------------------------------------------
// Construction and Lifecycle
// --------------------------------------------------------------------------

// New creates a membership table with the local node registered as Alive.
func New(localID, localAddr string, cfg Config) *Table {
	def := DefaultConfig()
	if cfg.SuspectTimeout <= 0 {
		cfg.SuspectTimeout = def.SuspectTimeout
	}
	if cfg.DeadTimeout <= 0 {
		cfg.DeadTimeout = def.DeadTimeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}

	t := &Table{
		localID: localID,
		members: make(map[string]*Member),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	t.members[localID] = &Member{
		ID:          localID,
		Addr:        localAddr,
		Status:      Alive,
		Incarnation: 1,
		LastSeen:    t.now(),
	}
	return t
}

// Start launches the background timeout sweep.
func (t *Table) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stopCh:
				return
			case <-ticker.C:
				t.CheckTimeouts()
			}
		}
	}()
}

// Stop terminates the background sweep and waits for it to finish.
func (t *Table) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

// Subscribe registers a change callback. Callbacks fire asynchronously.
func (t *Table) Subscribe(fn OnChange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// --------------------------------------------------------------------------
// State Inputs
// --------------------------------------------------------------------------

// AddSeed registers a peer learned from configuration. Seeds start Alive so
// the initial ring includes them; the failure detector demotes unreachable
// ones within a suspect timeout.
func (t *Table) AddSeed(id, addr string) {
	if id == t.localID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.members[id]; ok {
		return
	}
	t.members[id] = &Member{
		ID:          id,
		Addr:        addr,
		Status:      Alive,
		Incarnation: 1,
		LastSeen:    t.now(),
	}
}

// Heartbeat records a heartbeat from nodeID. An unknown node is ignored
// (it becomes known via seeds or gossip). Returns to Alive from any state.
func (t *Table) Heartbeat(nodeID string) {
	t.mu.Lock()
	m, ok := t.members[nodeID]
	if !ok {
		t.mu.Unlock()
		return
	}
	m.LastSeen = t.now()
	if m.Status == Alive {
		t.mu.Unlock()
		return
	}
	from := m.Status
	m.Status = Alive
	m.Incarnation++
	change := Change{Member: *m, From: from, To: Alive}
	t.mu.Unlock()

	log.Infof("[%s] member %s recovered (%s -> alive)", t.localID, nodeID, from)
	t.notify(change)
}

// Status returns the current state of a node. Unknown nodes report Dead.
func (t *Table) Status(nodeID string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if m, ok := t.members[nodeID]; ok {
		return m.Status
	}
	return Dead
}

// CheckTimeouts performs one failure-detection sweep, demoting members whose
// heartbeats are overdue. A member silent past both thresholds passes through
// both transitions within the sweep, so subscribers always observe
// Alive -> Suspect before Suspect -> Dead. It is called periodically by the
// Start loop and directly by tests.
func (t *Table) CheckTimeouts() {
	now := t.now()
	var changes []Change

	t.mu.Lock()
	for id, m := range t.members {
		if id == t.localID {
			continue
		}
		silence := now.Sub(m.LastSeen)
		if m.Status == Alive && silence > t.cfg.SuspectTimeout {
			m.Status = Suspect
			m.Incarnation++
			changes = append(changes, Change{Member: *m, From: Alive, To: Suspect})
		}
		if m.Status == Suspect && silence > t.cfg.SuspectTimeout+t.cfg.DeadTimeout {
			m.Status = Dead
			m.Incarnation++
			changes = append(changes, Change{Member: *m, From: Suspect, To: Dead})
		}
	}
	t.mu.Unlock()

	for _, c := range changes {
		log.Warningf("[%s] member %s %s -> %s (no heartbeat)", t.localID, c.Member.ID, c.From, c.To)
		t.notify(c)
	}
}

// --------------------------------------------------------------------------
// Gossip Merge
// --------------------------------------------------------------------------

// Merge folds a remote membership view into the local table. Higher
// incarnations win outright; at equal incarnation the more optimistic state
// wins (Alive over Suspect over Dead), so a node wrongly suspected by one
// observer is rehabilitated by others that still hear from it.
func (t *Table) Merge(remote []Member) {
	var changes []Change

	t.mu.Lock()
	for _, rm := range remote {
		if rm.ID == t.localID {
			continue
		}
		local, ok := t.members[rm.ID]
		if !ok {
			m := rm
			m.LastSeen = t.now()
			t.members[rm.ID] = &m
			changes = append(changes, Change{Member: m, From: Dead, To: m.Status})
			continue
		}

		apply := rm.Incarnation > local.Incarnation ||
			(rm.Incarnation == local.Incarnation && rm.Status < local.Status)
		if !apply || rm.Status == local.Status {
			if apply && rm.Incarnation > local.Incarnation {
				local.Incarnation = rm.Incarnation
			}
			continue
		}

		from := local.Status
		local.Status = rm.Status
		local.Incarnation = rm.Incarnation
		local.LastSeen = t.now()
		changes = append(changes, Change{Member: *local, From: from, To: rm.Status})
	}
	t.mu.Unlock()

	for _, c := range changes {
		log.Infof("[%s] gossip: member %s %s -> %s (incarnation %d)",
			t.localID, c.Member.ID, c.From, c.To, c.Member.Incarnation)
		t.notify(c)
	}
}

// --------------------------------------------------------------------------
// Views
// --------------------------------------------------------------------------

// Snapshot returns a copy of all tracked members, local node included.
func (t *Table) Snapshot() []Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Member, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, *m)
	}
	return out
}

// AlivePeers returns all Alive members except the local node.
func (t *Table) AlivePeers() []Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Member, 0, len(t.members))
	for _, m := range t.members {
		if m.ID != t.localID && m.Status == Alive {
			out = append(out, *m)
		}
	}
	return out
}

// LocalID returns the ID of the local node.
func (t *Table) LocalID() string {
	return t.localID
}

// notify delivers a change to every subscriber. Delivery is synchronous so
// subscribers see transitions in the order they happened; callbacks must not
// block. Callers hold no table lock here, so callbacks may call back into
// the table.
func (t *Table) notify(c Change) {
	t.mu.RLock()
	subs := make([]OnChange, len(t.subs))
	copy(subs, t.subs)
	t.mu.RUnlock()

	for _, fn := range subs {
		fn(c)
	}
}
