package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// poolCollector reports connection pool gauges for every open shard pool
// at scrape time.
type poolCollector struct {
	stats func() map[string]sql.DBStats

	open  *prometheus.Desc
	inUse *prometheus.Desc
	idle  *prometheus.Desc
	waits *prometheus.Desc
}

// NewPoolCollector returns a collector reading stats on every scrape.
func NewPoolCollector(stats func() map[string]sql.DBStats) prometheus.Collector {
	labels := []string{"shard"}
	return &poolCollector{
		stats: stats,
		open:  prometheus.NewDesc("catopus_shard_pool_open_connections", "Open connections per shard pool", labels, nil),
		inUse: prometheus.NewDesc("catopus_shard_pool_in_use_connections", "Connections in use per shard pool", labels, nil),
		idle:  prometheus.NewDesc("catopus_shard_pool_idle_connections", "Idle connections per shard pool", labels, nil),
		waits: prometheus.NewDesc("catopus_shard_pool_waits_total", "Connection waits per shard pool", labels, nil),
	}
}

// RegisterPools registers a pool collector with the default registry.
func RegisterPools(stats func() map[string]sql.DBStats) error {
	return prometheus.Register(NewPoolCollector(stats))
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.open
	ch <- c.inUse
	ch <- c.idle
	ch <- c.waits
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	for shard, s := range c.stats() {
		ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(s.OpenConnections), shard)
		ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse), shard)
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle), shard)
		ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(s.WaitCount), shard)
	}
}
