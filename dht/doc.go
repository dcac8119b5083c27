// Package dht implements the routing-table core of a Kademlia-style
// distributed hash table: node identity and XOR distance, recency-ordered
// k-buckets, the routing table itself, and a compact on-disk snapshot format.
//
// # Architecture
//
// The routing table is a passive data structure. It performs no network
// I/O and never decides on its own that a peer is dead. A transport or
// bootstrap mechanism feeds observed peers in, and a health-check driver
// reports probe outcomes back.
//
// Key components:
//
//   - NodeID / Distance: 160-bit identifiers and the XOR metric
//   - Node: immutable peer record (ID, IP and port, last seen)
//   - KBucket: fixed-capacity container ordered least to most recently seen
//   - RoutingTable: 160 buckets, insertion policy and closest-node queries
//   - Store: persists a snapshot to a file and restores it on startup
//   - HealthChecker: reference driver that probes stale peers
//   - Collector: Prometheus metrics for table occupancy
//
// # Routing Table
//
// Bucket i holds nodes whose XOR distance from the local ID has its highest
// set bit at position i, so it covers distances in [2^i, 2^(i+1)):
//
//	table := dht.NewRoutingTable(selfID, dht.DefaultK)
//	table.AddNode(node)
//	closest := table.FindClosestNodes(targetID, 8)
//
// A known node is always refreshed and moved to the tail of its bucket. A
// new node is dropped when its bucket is full; the table never evicts a live
// peer to make room for an unverified one.
//
// # Concurrency
//
// Every bucket owns its own mutex and there is no table-wide lock, so
// operations on different buckets proceed in parallel. Reads that span
// buckets, such as AllNodes and FindClosestNodes, copy each bucket in turn
// and are a best-effort snapshot rather than an atomic one.
//
// # Health Checks
//
// The table exposes the Membership contract used by a prober:
//
//	prober := dht.ProberFunc(func(ctx context.Context, n dht.Node) error {
//	    return transport.Ping(ctx, n.Addr)
//	})
//	checker := dht.NewHealthChecker(table, prober, dht.DefaultHealthCheckConfig())
//	checker.Start()
//	defer checker.Stop()
//
// # Persistence
//
// Each record is the 20-byte ID, an address family tag (4 or 6), the 4 or
// 16 address bytes, and a big-endian port. Records are concatenated with no
// header. A corrupt or truncated file loads up to the last good record:
//
//	store := dht.NewStore(path)
//	accepted, err := store.LoadInto(table)
//	...
//	err = store.SaveTable(table)
package dht
