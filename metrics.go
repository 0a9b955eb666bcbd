package bincache

import (
	"fmt"
	"strconv"

	"github.com/VictoriaMetrics/metrics"
)

// RegisterMetrics exposes client, pool and node statistics on set as
// Prometheus metrics prefixed with bincache_. Values are read from Stats,
// PoolStats and NodeStats at scrape time.
//
//	set := metrics.NewSet()
//	client.RegisterMetrics(set)
//	set.WritePrometheus(w)
func (c *Client) RegisterMetrics(set *metrics.Set) {
	client := func(f func(ClientStats) uint64) func() float64 {
		return func() float64 { return float64(f(c.Stats())) }
	}
	set.NewGauge("bincache_gets_total", client(func(s ClientStats) uint64 { return s.Gets }))
	set.NewGauge("bincache_get_hits_total", client(func(s ClientStats) uint64 { return s.GetHits }))
	set.NewGauge("bincache_sets_total", client(func(s ClientStats) uint64 { return s.Sets }))
	set.NewGauge("bincache_deletes_total", client(func(s ClientStats) uint64 { return s.Deletes }))
	set.NewGauge("bincache_compressed_total", client(func(s ClientStats) uint64 { return s.Compressed }))
	set.NewGauge("bincache_errors_total", client(func(s ClientStats) uint64 { return s.Errors }))

	pool := func(f func(PoolStats) float64) func() float64 {
		return func() float64 { return f(c.PoolStats()) }
	}
	set.NewGauge("bincache_pool_conns_total", pool(func(s PoolStats) float64 { return float64(s.TotalConns) }))
	set.NewGauge("bincache_pool_conns_idle", pool(func(s PoolStats) float64 { return float64(s.IdleConns) }))
	set.NewGauge("bincache_pool_conns_active", pool(func(s PoolStats) float64 { return float64(s.ActiveConns) }))
	set.NewGauge("bincache_pool_acquires_total", pool(func(s PoolStats) float64 { return float64(s.AcquireCount) }))
	set.NewGauge("bincache_pool_acquire_waits_total", pool(func(s PoolStats) float64 { return float64(s.AcquireWaitCount) }))
	set.NewGauge("bincache_pool_acquire_wait_seconds_total", pool(func(s PoolStats) float64 { return float64(s.AcquireWaitTimeNs) / 1e9 }))
	set.NewGauge("bincache_pool_acquire_errors_total", pool(func(s PoolStats) float64 { return float64(s.AcquireErrors) }))
	set.NewGauge("bincache_pool_conns_created_total", pool(func(s PoolStats) float64 { return float64(s.CreatedConns) }))
	set.NewGauge("bincache_pool_conns_destroyed_total", pool(func(s PoolStats) float64 { return float64(s.DestroyedConns) }))

	for i, n := range c.cluster.nodes {
		labels := fmt.Sprintf(`{node=%s,index="%d"}`, strconv.Quote(n.config.Addr), i)
		node := func(f func(NodeStats) float64) func() float64 {
			return func() float64 { return f(c.cluster.stats()[i]) }
		}
		set.NewGauge("bincache_node_credits"+labels, node(func(s NodeStats) float64 { return float64(s.Credits) }))
		set.NewGauge("bincache_node_connects_total"+labels, node(func(s NodeStats) float64 { return float64(s.Connects) }))
		set.NewGauge("bincache_node_connect_failures_total"+labels, node(func(s NodeStats) float64 { return float64(s.Failures) }))
	}
}
