package dht

import (
	"net/netip"
	"sync"
	"testing"
	"time"
)

// fakeClock is a TimeProvider that only moves when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
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

// createTestID returns an ID with every byte set to b.
func createTestID(b byte) NodeID {
	var id NodeID
	for i := range id {
		id[i] = b
	}
	return id
}

// setBit sets bit p, counted from the least significant bit.
func setBit(id *NodeID, p int) {
	id[IDLength-1-p/8] |= 1 << (p % 8)
}

// idInBucket returns the n-th ID whose distance from self has its highest
// bit at position bucket. n must be below 2^bucket.
func idInBucket(self NodeID, bucket int, n uint64) NodeID {
	var d NodeID
	setBit(&d, bucket)
	for p := 0; p < bucket && p < 64; p++ {
		if (n>>p)&1 == 1 {
			setBit(&d, p)
		}
	}
	return NodeID(XOR(self, d))
}

func testNode(t testing.TB, id NodeID, addr string, seen time.Time) Node {
	t.Helper()
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		t.Fatalf("bad test address %q: %v", addr, err)
	}
	return NewNodeFromAddrPort(id, ap, seen)
}

func ids(nodes []Node) map[NodeID]bool {
	set := make(map[NodeID]bool, len(nodes))
	for _, n := range nodes {
		set[n.ID] = true
	}
	return set
}
