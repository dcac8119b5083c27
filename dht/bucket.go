package dht

import (
	"sync"
	"time"
)

// KBucket holds up to k nodes for one distance range, ordered from least
// recently seen (head) to most recently seen (tail). The ordering by
// LastSeen is an invariant every mutation maintains; StaleNodes depends on it.
type KBucket struct {
	mu    sync.Mutex
	nodes []Node
	k     int
}

// NewKBucket creates an empty bucket with capacity k.
func NewKBucket(k int) *KBucket {
	return &KBucket{
		nodes: make([]Node, 0, k),
		k:     k,
	}
}

// AddOrTouch inserts n, replacing any node with the same ID. It does not
// enforce capacity; callers adding a new ID check IsFull first, or use Upsert.
func (kb *KBucket) AddOrTouch(n Node) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if i := kb.indexOf(n.ID); i >= 0 {
		kb.removeAt(i)
	}
	kb.insertOrdered(n)
}

// Upsert replaces an existing node with the same ID by n touched at now, or
// inserts n unchanged if the bucket has room. It reports whether n is now
// stored. The membership check and the insert happen under one lock, so
// concurrent callers can never push the bucket past capacity.
func (kb *KBucket) Upsert(n Node, now time.Time) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if i := kb.indexOf(n.ID); i >= 0 {
		kb.removeAt(i)
		kb.insertOrdered(n.Touch(now))
		return true
	}
	if len(kb.nodes) >= kb.k {
		return false
	}
	kb.insertOrdered(n)
	return true
}

// Contains reports whether a node with the given ID is in the bucket.
func (kb *KBucket) Contains(id NodeID) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.indexOf(id) >= 0
}

// Get returns the stored record for id.
func (kb *KBucket) Get(id NodeID) (Node, bool) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if i := kb.indexOf(id); i >= 0 {
		return kb.nodes[i], true
	}
	return Node{}, false
}

// IsFull reports whether the bucket holds k or more nodes.
func (kb *KBucket) IsFull() bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return len(kb.nodes) >= kb.k
}

// Len returns the number of nodes in the bucket.
func (kb *KBucket) Len() int {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return len(kb.nodes)
}

// Cap returns the bucket capacity k.
func (kb *KBucket) Cap() int {
	return kb.k
}

// Remove deletes the node with the given ID. It returns false if the node
// was not present.
func (kb *KBucket) Remove(id NodeID) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	i := kb.indexOf(id)
	if i < 0 {
		return false
	}
	kb.removeAt(i)
	return true
}

// Oldest returns the least recently seen node, the natural eviction candidate.
func (kb *KBucket) Oldest() (Node, bool) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if len(kb.nodes) == 0 {
		return Node{}, false
	}
	return kb.nodes[0], true
}

// Nodes returns a copy of the bucket contents in recency order.
func (kb *KBucket) Nodes() []Node {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	result := make([]Node, len(kb.nodes))
	copy(result, kb.nodes)
	return result
}

// StaleNodes walks from the head and collects nodes not seen for longer than
// threshold, stopping at the first fresh node. Everything after a fresh node
// was seen more recently, so the rest of the bucket is fresh too.
func (kb *KBucket) StaleNodes(threshold time.Duration, now time.Time) []Node {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	var stale []Node
	for _, n := range kb.nodes {
		if !n.IsStale(now, threshold) {
			break
		}
		stale = append(stale, n)
	}
	return stale
}

func (kb *KBucket) indexOf(id NodeID) int {
	for i := range kb.nodes {
		if kb.nodes[i].ID == id {
			return i
		}
	}
	return -1
}

// removeAt deletes index i keeping the remaining order intact.
func (kb *KBucket) removeAt(i int) {
	copy(kb.nodes[i:], kb.nodes[i+1:])
	kb.nodes[len(kb.nodes)-1] = Node{}
	kb.nodes = kb.nodes[:len(kb.nodes)-1]
}

// insertOrdered places n after every node seen no later than it. A freshly
// touched node always lands at the tail; an older record (for example one
// restored from disk) is slotted back into recency order.
func (kb *KBucket) insertOrdered(n Node) {
	i := len(kb.nodes)
	for i > 0 && kb.nodes[i-1].LastSeen.After(n.LastSeen) {
		i--
	}
	kb.nodes = append(kb.nodes, Node{})
	copy(kb.nodes[i+1:], kb.nodes[i:])
	kb.nodes[i] = n
}
