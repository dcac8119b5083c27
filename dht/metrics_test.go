package dht

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	rt, clock := newTestTable(t, 2)
	for i := uint64(0); i < 3; i++ {
		rt.AddNode(testNode(t, idInBucket(rt.SelfID(), 12, i), "10.0.0.1:1", clock.Now()))
	}
	rt.AddNode(testNode(t, idInBucket(rt.SelfID(), 99, 0), "10.0.0.1:1", clock.Now()))

	c := NewCollector(rt)
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP mycelium_routing_table_bucket_nodes Number of nodes stored in each non-empty bucket.
# TYPE mycelium_routing_table_bucket_nodes gauge
mycelium_routing_table_bucket_nodes{bucket="12",self_id="00000000"} 2
mycelium_routing_table_bucket_nodes{bucket="99",self_id="00000000"} 1
# HELP mycelium_routing_table_full_buckets Number of buckets at capacity.
# TYPE mycelium_routing_table_full_buckets gauge
mycelium_routing_table_full_buckets{self_id="00000000"} 1
# HELP mycelium_routing_table_nodes Number of nodes stored in the routing table.
# TYPE mycelium_routing_table_nodes gauge
mycelium_routing_table_nodes{self_id="00000000"} 3
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"mycelium_routing_table_bucket_nodes",
		"mycelium_routing_table_full_buckets",
		"mycelium_routing_table_nodes",
	)
	assert.NoError(t, err)

	// 2 bucket series + total + capacity + full buckets
	assert.Equal(t, 5, testutil.CollectAndCount(c))
}
