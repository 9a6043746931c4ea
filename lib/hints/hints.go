package hints

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/qkv-io/qkv/lib/engine"
)

var log = logger.GetLogger("hints")

const (
	defaultMaxPerTarget = 1024
	defaultTTL          = 3 * time.Hour
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Hint is one buffered write for an unreachable replica.
type Hint struct {
	ID        string
	Key       string
	Version   engine.Versioned
	CreatedAt time.Time
}

// Options configures the hint queue.
type Options struct {
	// MaxPerTarget bounds each per-target queue (0 = default 1024).
	MaxPerTarget int
	// TTL is the hint lifetime; expired hints are dropped (0 = default 3h).
	TTL time.Duration
}

// targetQueue is the bounded FIFO for one unreachable node.
type targetQueue struct {
	mu    sync.Mutex
	hints []Hint
}

// Queue holds hinted writes grouped by target node ID.
type Queue struct {
	targets      *xsync.MapOf[string, *targetQueue]
	maxPerTarget int
	ttl          time.Duration
	now          func() time.Time // swappable for tests
}

// --------------------------------------------------------------------------
// Construction
// --------------------------------------------------------------------------

// New creates an empty hint queue.
func New(opts *Options) *Queue {
	if opts == nil {
		opts = &Options{}
	}
	maxPerTarget := opts.MaxPerTarget
	if maxPerTarget <= 0 {
		maxPerTarget = defaultMaxPerTarget
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Queue{
		targets:      xsync.NewMapOf[string, *targetQueue](),
		maxPerTarget: maxPerTarget,
		ttl:          ttl,
		now:          time.Now,
	}
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Enqueue buffers a write for targetID. When the target's queue is full the
// oldest hint is dropped to make room; anti-entropy covers what hints lose.
func (q *Queue) Enqueue(targetID, key string, v engine.Versioned) Hint {
	h := Hint{
		ID:        uuid.NewString(),
		Key:       key,
		Version:   v,
		CreatedAt: q.now(),
	}

	tq, _ := q.targets.LoadOrCompute(targetID, func() *targetQueue { return &targetQueue{} })
	tq.mu.Lock()
	if len(tq.hints) >= q.maxPerTarget {
		dropped := tq.hints[0]
		tq.hints = tq.hints[1:]
		log.Warningf("hint queue for %s full, dropped oldest hint %s (key %s)",
			targetID, dropped.ID, dropped.Key)
	}
	tq.hints = append(tq.hints, h)
	tq.mu.Unlock()
	return h
}

// Drain removes and returns up to max hints for targetID in FIFO order,
// skipping expired ones. Called by the replay loop once membership reports
// the target Alive again.
func (q *Queue) Drain(targetID string, max int) []Hint {
	tq, ok := q.targets.Load(targetID)
	if !ok {
		return nil
	}
	cutoff := q.now().Add(-q.ttl)

	tq.mu.Lock()
	defer tq.mu.Unlock()

	out := make([]Hint, 0, max)
	kept := tq.hints[:0]
	for _, h := range tq.hints {
		if h.CreatedAt.Before(cutoff) {
			continue
		}
		if len(out) < max {
			out = append(out, h)
			continue
		}
		kept = append(kept, h)
	}
	tq.hints = kept
	return out
}

// Requeue puts hints back at the front of the target's queue after a failed
// replay attempt, preserving their original creation time so the TTL still
// applies.
func (q *Queue) Requeue(targetID string, hints []Hint) {
	if len(hints) == 0 {
		return
	}
	tq, _ := q.targets.LoadOrCompute(targetID, func() *targetQueue { return &targetQueue{} })
	tq.mu.Lock()
	defer tq.mu.Unlock()

	merged := make([]Hint, 0, len(hints)+len(tq.hints))
	merged = append(merged, hints...)
	merged = append(merged, tq.hints...)
	if len(merged) > q.maxPerTarget {
		merged = merged[len(merged)-q.maxPerTarget:]
	}
	tq.hints = merged
}

// Sweep drops expired hints across all targets and returns how many were
// removed.
func (q *Queue) Sweep() int {
	cutoff := q.now().Add(-q.ttl)
	removed := 0
	q.targets.Range(func(targetID string, tq *targetQueue) bool {
		tq.mu.Lock()
		kept := tq.hints[:0]
		for _, h := range tq.hints {
			if h.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, h)
		}
		tq.hints = kept
		tq.mu.Unlock()
		return true
	})
	if removed > 0 {
		log.Infof("hint sweep discarded %d expired hints", removed)
	}
	return removed
}

// Pending returns the number of buffered hints for targetID.
func (q *Queue) Pending(targetID string) int {
	tq, ok := q.targets.Load(targetID)
	if !ok {
		return 0
	}
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return len(tq.hints)
}

// Targets returns the IDs of all nodes with at least one buffered hint.
func (q *Queue) Targets() []string {
	var out []string
	q.targets.Range(func(targetID string, tq *targetQueue) bool {
		tq.mu.Lock()
		n := len(tq.hints)
		tq.mu.Unlock()
		if n > 0 {
			out = append(out, targetID)
		}
		return true
	})
	return out
}
