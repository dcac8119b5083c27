package dht

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKBucketAddOrTouch(t *testing.T) {
	clock := newFakeClock()
	kb := NewKBucket(4)

	a := testNode(t, createTestID(1), "10.0.0.1:1", clock.Now())
	clock.Advance(time.Second)
	b := testNode(t, createTestID(2), "10.0.0.2:1", clock.Now())

	kb.AddOrTouch(a)
	kb.AddOrTouch(b)
	require.Equal(t, 2, kb.Len())

	oldest, ok := kb.Oldest()
	require.True(t, ok)
	assert.Equal(t, a.ID, oldest.ID)

	// Touching a moves it to the tail and keeps a single entry.
	clock.Advance(time.Second)
	kb.AddOrTouch(a.Touch(clock.Now()))
	nodes := kb.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, b.ID, nodes[0].ID)
	assert.Equal(t, a.ID, nodes[1].ID)
	assert.Equal(t, clock.Now(), nodes[1].LastSeen)
}

func TestKBucketAddOrTouchIgnoresCapacity(t *testing.T) {
	kb := NewKBucket(1)
	now := time.Now()
	kb.AddOrTouch(testNode(t, createTestID(1), "10.0.0.1:1", now))
	kb.AddOrTouch(testNode(t, createTestID(2), "10.0.0.2:1", now))
	assert.Equal(t, 2, kb.Len(), "capacity policy belongs to the caller")
	assert.True(t, kb.IsFull())
}

func TestKBucketUpsert(t *testing.T) {
	clock := newFakeClock()
	kb := NewKBucket(2)

	a := testNode(t, createTestID(1), "10.0.0.1:1", clock.Now())
	b := testNode(t, createTestID(2), "10.0.0.2:1", clock.Now())
	c := testNode(t, createTestID(3), "10.0.0.3:1", clock.Now())

	assert.True(t, kb.Upsert(a, clock.Now()))
	assert.True(t, kb.Upsert(b, clock.Now()))
	assert.False(t, kb.Upsert(c, clock.Now()), "new node rejected when full")
	assert.False(t, kb.Contains(c.ID))

	clock.Advance(time.Minute)
	moved := testNode(t, a.ID, "10.0.0.99:2", time.Time{})
	assert.True(t, kb.Upsert(moved, clock.Now()), "existing node refreshed when full")

	stored, ok := kb.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, clock.Now(), stored.LastSeen)
	assert.Equal(t, "10.0.0.99:2", stored.Addr.String())
	assert.Equal(t, 2, kb.Len())
}

func TestKBucketRemove(t *testing.T) {
	now := time.Now()
	kb := NewKBucket(4)
	for i := byte(1); i <= 3; i++ {
		kb.AddOrTouch(testNode(t, createTestID(i), "10.0.0.1:1", now.Add(time.Duration(i)*time.Second)))
	}

	assert.True(t, kb.Remove(createTestID(2)))
	assert.False(t, kb.Remove(createTestID(2)), "second remove is a no-op")
	assert.False(t, kb.Contains(createTestID(2)))

	nodes := kb.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, createTestID(1), nodes[0].ID, "removal keeps recency order")
	assert.Equal(t, createTestID(3), nodes[1].ID)
}

func TestKBucketOldestEmpty(t *testing.T) {
	kb := NewKBucket(4)
	_, ok := kb.Oldest()
	assert.False(t, ok)
	assert.Empty(t, kb.Nodes())
	assert.Equal(t, 4, kb.Cap())
}

func TestKBucketNodesIsACopy(t *testing.T) {
	kb := NewKBucket(4)
	kb.AddOrTouch(testNode(t, createTestID(1), "10.0.0.1:1", time.Now()))

	snapshot := kb.Nodes()
	snapshot[0].ID = createTestID(9)

	assert.True(t, kb.Contains(createTestID(1)))
	assert.False(t, kb.Contains(createTestID(9)))
}

// An older record must never land behind a fresher one, or StaleNodes
// would stop early and miss it.
func TestKBucketKeepsRecencyOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	kb := NewKBucket(8)

	kb.AddOrTouch(testNode(t, createTestID(1), "10.0.0.1:1", base.Add(10*time.Minute)))
	kb.AddOrTouch(testNode(t, createTestID(2), "10.0.0.2:1", base.Add(30*time.Minute)))
	kb.AddOrTouch(testNode(t, createTestID(3), "10.0.0.3:1", base))
	kb.AddOrTouch(testNode(t, createTestID(4), "10.0.0.4:1", base.Add(20*time.Minute)))

	nodes := kb.Nodes()
	require.Len(t, nodes, 4)
	for i := 1; i < len(nodes); i++ {
		assert.False(t, nodes[i].LastSeen.Before(nodes[i-1].LastSeen), "position %d out of order", i)
	}
	assert.Equal(t, createTestID(3), nodes[0].ID)

	stale := kb.StaleNodes(15*time.Minute, base.Add(30*time.Minute))
	assert.Equal(t, map[NodeID]bool{createTestID(3): true, createTestID(1): true}, ids(stale))
}

func TestKBucketStaleNodesStopsAtFirstFresh(t *testing.T) {
	clock := newFakeClock()
	kb := NewKBucket(8)

	for i := byte(1); i <= 5; i++ {
		kb.AddOrTouch(testNode(t, createTestID(i), "10.0.0.1:1", clock.Now()))
		clock.Advance(time.Minute)
	}
	// LastSeen: 1 -> t0, 2 -> t0+1m, ... 5 -> t0+4m; now = t0+5m

	stale := kb.StaleNodes(150*time.Second, clock.Now())
	require.Len(t, stale, 3)
	assert.Equal(t, createTestID(1), stale[0].ID)
	assert.Equal(t, createTestID(2), stale[1].ID)
	assert.Equal(t, createTestID(3), stale[2].ID)

	assert.Empty(t, kb.StaleNodes(time.Hour, clock.Now()))
	assert.Len(t, kb.StaleNodes(0, clock.Now()), 5)
}

func TestKBucketConcurrentAccess(t *testing.T) {
	const k = 8
	kb := NewKBucket(k)
	now := time.Now()

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				var id NodeID
				id[0] = byte(g)
				id[1] = byte(i)
				n := testNode(t, id, "10.0.0.1:1", now)
				kb.Upsert(n, now)
				kb.StaleNodes(time.Minute, now)
				if i%3 == 0 {
					kb.Remove(id)
				}
				_ = kb.Nodes()
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, kb.Len(), k, "Upsert never exceeds capacity")
}
