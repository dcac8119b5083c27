package dht

import (
	"container/heap"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultK is the standard Kademlia bucket capacity.
const DefaultK = 8

// RoutingTable keeps IDBits k-buckets indexed by the bit length of each
// node's XOR distance from the local identifier. There is no table-wide
// lock: the bucket array never changes after construction and every bucket
// synchronizes itself, so operations on different buckets run in parallel.
// Reads spanning several buckets are a best-effort snapshot.
type RoutingTable struct {
	kBuckets     [IDBits]*KBucket
	selfID       NodeID
	k            int
	timeProvider TimeProvider
}

// NewRoutingTable creates a routing table for selfID with bucket capacity k.
func NewRoutingTable(selfID NodeID, k int) *RoutingTable {
	return NewRoutingTableWithTimeProvider(selfID, k, nil)
}

// NewRoutingTableWithTimeProvider creates a routing table using tp as its
// clock. Pass nil to use the package default.
func NewRoutingTableWithTimeProvider(selfID NodeID, k int, tp TimeProvider) *RoutingTable {
	if k < 1 {
		logrus.WithFields(logrus.Fields{
			"function":  "NewRoutingTable",
			"requested": k,
			"using":     DefaultK,
		}).Warn("Invalid bucket capacity, falling back to default")
		k = DefaultK
	}

	rt := &RoutingTable{
		selfID:       selfID,
		k:            k,
		timeProvider: tp,
	}
	for i := 0; i < IDBits; i++ {
		rt.kBuckets[i] = NewKBucket(k)
	}
	return rt
}

// SelfID returns the local identifier.
func (rt *RoutingTable) SelfID() NodeID {
	return rt.selfID
}

// K returns the bucket capacity.
func (rt *RoutingTable) K() int {
	return rt.k
}

// BucketIndexOf returns the bucket that id belongs to.
func (rt *RoutingTable) BucketIndexOf(id NodeID) int {
	return BucketIndex(rt.selfID, id)
}

// Bucket returns bucket i. It panics if i is outside [0, IDBits).
func (rt *RoutingTable) Bucket(i int) *KBucket {
	return rt.kBuckets[i]
}

func (rt *RoutingTable) now() time.Time {
	return getTimeProvider(rt.timeProvider).Now()
}

// AddNode records an observation of node. A known node is replaced by a
// touched copy and moves to the tail of its bucket regardless of fullness.
// A new node is inserted as given only if its bucket has room; otherwise
// it is dropped, and the table waits for the health checker to remove a
// dead peer via NodeTimedOut.
// The local node is never stored. AddNode reports whether node is now in
// the table.
func (rt *RoutingTable) AddNode(node Node) bool {
	if node.ID == rt.selfID {
		return false
	}

	idx := rt.BucketIndexOf(node.ID)
	if !rt.kBuckets[idx].Upsert(node, rt.now()) {
		logrus.WithFields(logrus.Fields{
			"function": "AddNode",
			"node_id":  node.ID.Short(),
			"bucket":   idx,
		}).Debug("Bucket full, ignoring new node")
		return false
	}
	return true
}

// NodeResponded refreshes node after a successful liveness probe, moving it
// to the tail of its bucket. It is AddNode with a touched copy, so it follows
// the same capacity rules.
func (rt *RoutingTable) NodeResponded(node Node) bool {
	return rt.AddNode(node.Touch(rt.now()))
}

// NodeTimedOut removes node after a failed liveness probe. Removing an
// absent node is a no-op.
func (rt *RoutingTable) NodeTimedOut(node Node) bool {
	return rt.RemoveNode(node.ID)
}

// RemoveNode removes the node with the given ID and reports whether it was present.
func (rt *RoutingTable) RemoveNode(id NodeID) bool {
	removed := rt.kBuckets[rt.BucketIndexOf(id)].Remove(id)
	if removed {
		logrus.WithFields(logrus.Fields{
			"function": "RemoveNode",
			"node_id":  id.Short(),
		}).Debug("Removed node from routing table")
	}
	return removed
}

// Contains reports whether id is stored in the table.
func (rt *RoutingTable) Contains(id NodeID) bool {
	return rt.kBuckets[rt.BucketIndexOf(id)].Contains(id)
}

// GetNode returns the stored record for id.
func (rt *RoutingTable) GetNode(id NodeID) (Node, bool) {
	return rt.kBuckets[rt.BucketIndexOf(id)].Get(id)
}

// nodeHeap implements heap.Interface for finding closest nodes efficiently.
// It's a max-heap based on distance, keeping the count closest nodes.
type nodeHeap struct {
	nodes     []Node
	distances []Distance
	target    NodeID
}

func (h *nodeHeap) Len() int { return len(h.nodes) }

func (h *nodeHeap) Less(i, j int) bool {
	// Max-heap: the farthest node sits at the root
	return h.distances[j].Less(h.distances[i])
}

func (h *nodeHeap) Swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.distances[i], h.distances[j] = h.distances[j], h.distances[i]
}

func (h *nodeHeap) Push(x interface{}) {
	item := x.(Node)
	h.nodes = append(h.nodes, item)
	h.distances = append(h.distances, XOR(item.ID, h.target))
}

func (h *nodeHeap) Pop() interface{} {
	n := len(h.nodes)
	item := h.nodes[n-1]
	h.nodes = h.nodes[:n-1]
	h.distances = h.distances[:n-1]
	return item
}

// FindClosestNodes returns up to count nodes ordered by ascending XOR
// distance to target. Nodes at equal distance come back in no particular order.
func (rt *RoutingTable) FindClosestNodes(target NodeID, count int) []Node {
	if count <= 0 {
		return []Node{}
	}

	h := &nodeHeap{
		nodes:     make([]Node, 0, count),
		distances: make([]Distance, 0, count),
		target:    target,
	}

	for _, bucket := range rt.kBuckets {
		for _, node := range bucket.Nodes() {
			if len(h.nodes) < count {
				heap.Push(h, node)
				continue
			}
			if XOR(node.ID, target).Less(h.distances[0]) {
				heap.Pop(h)
				heap.Push(h, node)
			}
		}
	}

	// Popping yields farthest first, so fill the result from the back.
	result := make([]Node, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(Node)
	}
	return result
}

// FindClosest returns the k nodes closest to target.
func (rt *RoutingTable) FindClosest(target NodeID) []Node {
	return rt.FindClosestNodes(target, rt.k)
}

// NodesForHealthCheck returns every node not seen for longer than threshold.
// Buckets are scanned concurrently; the result has no defined order.
func (rt *RoutingTable) NodesForHealthCheck(threshold time.Duration) []Node {
	now := rt.now()
	perBucket := make([][]Node, IDBits)

	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, bucket := range rt.kBuckets {
		i, bucket := i, bucket
		eg.Go(func() error {
			perBucket[i] = bucket.StaleNodes(threshold, now)
			return nil
		})
	}
	_ = eg.Wait()

	var stale []Node
	for _, nodes := range perBucket {
		stale = append(stale, nodes...)
	}
	return stale
}

// RecentNodes returns up to limit nodes, most recently seen first.
func (rt *RoutingTable) RecentNodes(limit int) []Node {
	if limit <= 0 {
		return []Node{}
	}
	all := rt.AllNodes()
	slices.SortFunc(all, func(a, b Node) int {
		return b.LastSeen.Compare(a.LastSeen)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// AllNodes returns a snapshot of every stored node, bucket by bucket.
func (rt *RoutingTable) AllNodes() []Node {
	var all []Node
	for _, bucket := range rt.kBuckets {
		all = append(all, bucket.Nodes()...)
	}
	return all
}

// Size returns the number of stored nodes.
func (rt *RoutingTable) Size() int {
	total := 0
	for _, bucket := range rt.kBuckets {
		total += bucket.Len()
	}
	return total
}

// Seed feeds nodes through AddNode, as done when restoring a saved table,
// and returns how many were accepted.
func (rt *RoutingTable) Seed(nodes []Node) int {
	accepted := 0
	for _, n := range nodes {
		if rt.AddNode(n) {
			accepted++
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Seed",
		"offered":  len(nodes),
		"accepted": accepted,
	}).Info("Seeded routing table")

	return accepted
}

// String summarizes bucket occupancy.
func (rt *RoutingTable) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "RoutingTable for %s\n", rt.selfID)
	total := 0
	for i, bucket := range rt.kBuckets {
		if n := bucket.Len(); n > 0 {
			fmt.Fprintf(&sb, "  bucket %d: %d nodes\n", i, n)
			total += n
		}
	}
	fmt.Fprintf(&sb, "total nodes: %d", total)
	return sb.String()
}
