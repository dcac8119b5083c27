package dht

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports routing table occupancy to Prometheus. Values are read
// from the buckets at scrape time.
type Collector struct {
	table *RoutingTable

	nodesDesc      *prometheus.Desc
	bucketDesc     *prometheus.Desc
	capacityDesc   *prometheus.Desc
	fullBucketDesc *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for table.
func NewCollector(table *RoutingTable) *Collector {
	constLabels := prometheus.Labels{"self_id": table.SelfID().Short()}
	return &Collector{
		table: table,
		nodesDesc: prometheus.NewDesc(
			"mycelium_routing_table_nodes",
			"Number of nodes stored in the routing table.",
			nil, constLabels,
		),
		bucketDesc: prometheus.NewDesc(
			"mycelium_routing_table_bucket_nodes",
			"Number of nodes stored in each non-empty bucket.",
			[]string{"bucket"}, constLabels,
		),
		capacityDesc: prometheus.NewDesc(
			"mycelium_routing_table_bucket_capacity",
			"Capacity k of every bucket.",
			nil, constLabels,
		),
		fullBucketDesc: prometheus.NewDesc(
			"mycelium_routing_table_full_buckets",
			"Number of buckets at capacity.",
			nil, constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.nodesDesc
	ch <- c.bucketDesc
	ch <- c.capacityDesc
	ch <- c.fullBucketDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	total, full := 0, 0
	for i := 0; i < IDBits; i++ {
		n := c.table.Bucket(i).Len()
		if n == 0 {
			continue
		}
		total += n
		if n >= c.table.K() {
			full++
		}
		ch <- prometheus.MustNewConstMetric(c.bucketDesc, prometheus.GaugeValue, float64(n), strconv.Itoa(i))
	}
	ch <- prometheus.MustNewConstMetric(c.nodesDesc, prometheus.GaugeValue, float64(total))
	ch <- prometheus.MustNewConstMetric(c.capacityDesc, prometheus.GaugeValue, float64(c.table.K()))
	ch <- prometheus.MustNewConstMetric(c.fullBucketDesc, prometheus.GaugeValue, float64(full))
}
