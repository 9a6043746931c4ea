package memory

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/qkv-io/qkv/lib/engine"
)

const (
	defaultNumShards    = 32
	defaultTombstoneTTL = 24 * time.Hour
	defaultReapInterval = time.Minute
)

// Options configures the in-memory engine.
type Options struct {
	// NumShards is the number of lock-striped map shards (0 = default).
	NumShards int
	// TombstoneTTL is how long fully-tombstoned keys are retained before the
	// reaper drops them (0 = default 24h).
	TombstoneTTL time.Duration
	// ReapInterval is the time between reaper sweeps (0 = default 1m).
	ReapInterval time.Duration
}

// shard is one lock-striped portion of the keyspace.
type shard struct {
	mu   sync.RWMutex
	data map[string][]engine.Versioned
}

// Memory is the sharded in-memory engine.
type Memory struct {
	shards []*shard
	length atomic.Int64

	tombstoneTTL time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	now          func() time.Time // swappable for tests
}

// New creates a started engine with background tombstone reaping.
func New(opts *Options) *Memory {
	if opts == nil {
		opts = &Options{}
	}
	numShards := opts.NumShards
	if numShards <= 0 {
		numShards = defaultNumShards
	}
	ttl := opts.TombstoneTTL
	if ttl <= 0 {
		ttl = defaultTombstoneTTL
	}
	interval := opts.ReapInterval
	if interval <= 0 {
		interval = defaultReapInterval
	}

	m := &Memory{
		shards:       make([]*shard, numShards),
		tombstoneTTL: ttl,
		stopCh:       make(chan struct{}),
		now:          time.Now,
	}
	for i := range m.shards {
		m.shards[i] = &shard{data: make(map[string][]engine.Versioned)}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.ReapTombstones()
			}
		}
	}()

	return m
}

func (m *Memory) shardFor(key string) *shard {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// --------------------------------------------------------------------------
// Interface Methods (docu see engine.Engine)
// --------------------------------------------------------------------------

func (m *Memory) Get(key string) ([]engine.Versioned, bool, error) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	siblings, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]engine.Versioned, len(siblings))
	copy(out, siblings)
	return out, true, nil
}

func (m *Memory) Put(key string, v engine.Versioned) (engine.PutResult, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[key]
	merged, result := engine.MergeSiblings(existing, v)
	if result == engine.PutApplied {
		s.data[key] = merged
		if !ok {
			m.length.Add(1)
		}
	}
	return result, nil
}

func (m *Memory) Scan(fn func(key string, siblings []engine.Versioned) bool) error {
	for _, s := range m.shards {
		s.mu.RLock()
		for key, siblings := range s.data {
			out := make([]engine.Versioned, len(siblings))
			copy(out, siblings)
			if !fn(key, out) {
				s.mu.RUnlock()
				return nil
			}
		}
		s.mu.RUnlock()
	}
	return nil
}

func (m *Memory) Len() int {
	return int(m.length.Load())
}

func (m *Memory) Close() error {
	close(m.stopCh)
	m.wg.Wait()
	return nil
}

// --------------------------------------------------------------------------
// Tombstone Reaping
// --------------------------------------------------------------------------

// ReapTombstones drops every key whose siblings are all tombstones older
// than the TTL. Called periodically by the background loop and directly by
// tests.
func (m *Memory) ReapTombstones() int {
	cutoff := m.now().Add(-m.tombstoneTTL).UnixMilli()
	reaped := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for key, siblings := range s.data {
			if allTombstonesBefore(siblings, cutoff) {
				delete(s.data, key)
				m.length.Add(-1)
				reaped++
			}
		}
		s.mu.Unlock()
	}
	return reaped
}

func allTombstonesBefore(siblings []engine.Versioned, cutoff int64) bool {
	for _, s := range siblings {
		if !s.Tombstone || s.Timestamp >= cutoff {
			return false
		}
	}
	return len(siblings) > 0
}

var _ engine.Engine = (*Memory)(nil)
