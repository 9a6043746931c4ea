package membership

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		SuspectTimeout: 100 * time.Millisecond,
		DeadTimeout:    200 * time.Millisecond,
		CheckInterval:  10 * time.Millisecond,
	}
}

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTable() (*Table, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	t := New("local", "local:4000", testConfig())
	t.now = clk.Now
	return t, clk
}

func TestStateMachineTransitions(t *testing.T) {
	tbl, clk := newTestTable()
	tbl.AddSeed("peer", "peer:4000")
	require.Equal(t, Alive, tbl.Status("peer"))

	// Silence past the suspect timeout.
	clk.Advance(150 * time.Millisecond)
	tbl.CheckTimeouts()
	assert.Equal(t, Suspect, tbl.Status("peer"))

	// Continued silence past the dead timeout.
	clk.Advance(300 * time.Millisecond)
	tbl.CheckTimeouts()
	assert.Equal(t, Dead, tbl.Status("peer"))

	// A heartbeat revives the node from any state.
	tbl.Heartbeat("peer")
	assert.Equal(t, Alive, tbl.Status("peer"))
}

func TestLongSilenceCascadesToDeadInOneSweep(t *testing.T) {
	tbl, clk := newTestTable()
	tbl.AddSeed("peer", "peer:4000")

	changes := make(chan Change, 4)
	tbl.Subscribe(func(c Change) { changes <- c })

	// Silence past both thresholds at once: a single sweep must walk the
	// member through suspect to dead, notifying both transitions in order.
	clk.Advance(time.Hour)
	tbl.CheckTimeouts()
	require.Equal(t, Dead, tbl.Status("peer"))

	want := []struct{ from, to Status }{{Alive, Suspect}, {Suspect, Dead}}
	for _, w := range want {
		select {
		case c := <-changes:
			assert.Equal(t, "peer", c.Member.ID)
			assert.Equal(t, w.from, c.From)
			assert.Equal(t, w.to, c.To)
		case <-time.After(time.Second):
			t.Fatalf("no %s -> %s notification received", w.from, w.to)
		}
	}
}

func TestHeartbeatKeepsNodeAlive(t *testing.T) {
	tbl, clk := newTestTable()
	tbl.AddSeed("peer", "peer:4000")

	for i := 0; i < 5; i++ {
		clk.Advance(80 * time.Millisecond)
		tbl.Heartbeat("peer")
		tbl.CheckTimeouts()
		assert.Equal(t, Alive, tbl.Status("peer"))
	}
}

func TestUnknownNodeReportsDead(t *testing.T) {
	tbl, _ := newTestTable()
	assert.Equal(t, Dead, tbl.Status("stranger"))
}

func TestLocalNodeNeverTimesOut(t *testing.T) {
	tbl, clk := newTestTable()
	clk.Advance(time.Hour)
	tbl.CheckTimeouts()
	assert.Equal(t, Alive, tbl.Status("local"))
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	tbl, clk := newTestTable()
	tbl.AddSeed("peer", "peer:4000")

	changes := make(chan Change, 4)
	tbl.Subscribe(func(c Change) { changes <- c })

	clk.Advance(150 * time.Millisecond)
	tbl.CheckTimeouts()

	select {
	case c := <-changes:
		assert.Equal(t, "peer", c.Member.ID)
		assert.Equal(t, Alive, c.From)
		assert.Equal(t, Suspect, c.To)
	case <-time.After(time.Second):
		t.Fatal("no change notification received")
	}
}

func TestMergeHigherIncarnationWins(t *testing.T) {
	tbl, clk := newTestTable()
	tbl.AddSeed("peer", "peer:4000")

	// Locally the peer has timed out to Dead.
	clk.Advance(time.Hour)
	tbl.CheckTimeouts()
	require.Equal(t, Dead, tbl.Status("peer"))
	local := tbl.Snapshot()
	var inc uint64
	for _, m := range local {
		if m.ID == "peer" {
			inc = m.Incarnation
		}
	}

	// A remote observer still hears from it and carries a newer incarnation.
	tbl.Merge([]Member{{ID: "peer", Addr: "peer:4000", Status: Alive, Incarnation: inc + 1}})
	assert.Equal(t, Alive, tbl.Status("peer"))
}

func TestMergeStaleIncarnationIgnored(t *testing.T) {
	tbl, _ := newTestTable()
	tbl.AddSeed("peer", "peer:4000")
	tbl.Merge([]Member{{ID: "peer", Status: Dead, Incarnation: 0}})
	assert.Equal(t, Alive, tbl.Status("peer"))
}

func TestMergeEqualIncarnationPrefersAlive(t *testing.T) {
	tbl, clk := newTestTable()
	tbl.AddSeed("peer", "peer:4000")

	clk.Advance(150 * time.Millisecond)
	tbl.CheckTimeouts()
	require.Equal(t, Suspect, tbl.Status("peer"))
	var inc uint64
	for _, m := range tbl.Snapshot() {
		if m.ID == "peer" {
			inc = m.Incarnation
		}
	}

	tbl.Merge([]Member{{ID: "peer", Status: Alive, Incarnation: inc}})
	assert.Equal(t, Alive, tbl.Status("peer"))

	// But the same incarnation cannot demote Alive back to Suspect.
	tbl.Merge([]Member{{ID: "peer", Status: Suspect, Incarnation: inc}})
	assert.Equal(t, Alive, tbl.Status("peer"))
}

func TestMergeDiscoversNewMembers(t *testing.T) {
	tbl, _ := newTestTable()
	tbl.Merge([]Member{{ID: "new", Addr: "new:4000", Status: Alive, Incarnation: 3}})

	assert.Equal(t, Alive, tbl.Status("new"))
	assert.Len(t, tbl.AlivePeers(), 1)
}

func TestMembersCodecRoundTrip(t *testing.T) {
	in := []Member{
		{ID: "a", Addr: "a:4000", Status: Alive, Incarnation: 1, LastSeen: time.Unix(1, 0)},
		{ID: "b", Addr: "b:4000", Status: Suspect, Incarnation: 7, LastSeen: time.Unix(2, 0)},
		{ID: "c", Addr: "c:4000", Status: Dead, Incarnation: 12, LastSeen: time.Unix(3, 0)},
	}

	data, err := MarshalMembers(in)
	require.NoError(t, err)

	out, err := UnmarshalMembers(data)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].ID, out[i].ID)
		assert.Equal(t, in[i].Addr, out[i].Addr)
		assert.Equal(t, in[i].Status, out[i].Status)
		assert.Equal(t, in[i].Incarnation, out[i].Incarnation)
	}

	_, err = UnmarshalMembers(data[:len(data)-4])
	assert.Error(t, err)
}

func TestMembersCodecRejectsInflatedCount(t *testing.T) {
	// Header claims 100,000,000 members but carries none. The decoder must
	// fail on the count itself instead of sizing a slice for it.
	data := []byte{0x05, 0xF5, 0xE1, 0x00, 0, 0, 0, 0}

	_, err := UnmarshalMembers(data)
	assert.Error(t, err)
}
