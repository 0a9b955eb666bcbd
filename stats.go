package bincache

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// PoolStats contains statistics about a connection pool.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
//   - Histogram: AcquireWaitDuration (use AcquireWaitCount and AcquireWaitTimeNs to calculate)
//
// Client.RegisterMetrics does this with VictoriaMetrics.
type PoolStats struct {
	// Lifetime counters
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait
	CreatedConns      uint64 // Total connections created
	DestroyedConns    uint64 // Total connections closed
	AcquireErrors     uint64 // Failed acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	// Current state gauges
	TotalConns  int32 // Open connections (active + idle)
	IdleConns   int32 // Idle connections available
	ActiveConns int32 // Connections currently in use
}

// ClientStats contains statistics about client operations.
type ClientStats struct {
	Gets       uint64 // Total Get operations
	GetHits    uint64 // Get operations that found the key
	Sets       uint64 // Total Set operations
	Deletes    uint64 // Total Delete operations
	Compressed uint64 // Values deflated before being stored
	Errors     uint64 // Total errors across all operations
}

// poolStatsCollector records pool counters. Pools compute the gauges
// themselves.
type poolStatsCollector struct {
	acquireCount      atomic.Uint64
	acquireWaitCount  atomic.Uint64
	acquireWaitTimeNs atomic.Uint64
	acquireErrors     atomic.Uint64
	createdConns      atomic.Uint64
	destroyedConns    atomic.Uint64
}

func (c *poolStatsCollector) recordAcquire() {
	c.acquireCount.Add(1)
}

func (c *poolStatsCollector) recordAcquireWait(duration time.Duration) {
	c.acquireWaitCount.Add(1)
	c.acquireWaitTimeNs.Add(uint64(duration.Nanoseconds()))
}

func (c *poolStatsCollector) recordAcquireError() {
	c.acquireErrors.Add(1)
}

func (c *poolStatsCollector) recordCreate() {
	c.createdConns.Add(1)
}

func (c *poolStatsCollector) recordDestroy() {
	c.destroyedConns.Add(1)
}

func (c *poolStatsCollector) snapshot() PoolStats {
	return PoolStats{
		AcquireCount:      c.acquireCount.Load(),
		AcquireWaitCount:  c.acquireWaitCount.Load(),
		CreatedConns:      c.createdConns.Load(),
		DestroyedConns:    c.destroyedConns.Load(),
		AcquireErrors:     c.acquireErrors.Load(),
		AcquireWaitTimeNs: c.acquireWaitTimeNs.Load(),
	}
}

// clientStatsCollector counts client operations. Counters are striped so
// concurrent callers do not contend on one cache line.
type clientStatsCollector struct {
	gets       *xsync.Counter
	getHits    *xsync.Counter
	sets       *xsync.Counter
	deletes    *xsync.Counter
	compressed *xsync.Counter
	errors     *xsync.Counter
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{
		gets:       xsync.NewCounter(),
		getHits:    xsync.NewCounter(),
		sets:       xsync.NewCounter(),
		deletes:    xsync.NewCounter(),
		compressed: xsync.NewCounter(),
		errors:     xsync.NewCounter(),
	}
}

func (c *clientStatsCollector) recordGet(found bool) {
	c.gets.Inc()
	if found {
		c.getHits.Inc()
	}
}

func (c *clientStatsCollector) recordSet(compressed bool) {
	c.sets.Inc()
	if compressed {
		c.compressed.Inc()
	}
}

func (c *clientStatsCollector) recordDelete() {
	c.deletes.Inc()
}

func (c *clientStatsCollector) recordError() {
	c.errors.Inc()
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:       uint64(c.gets.Value()),
		GetHits:    uint64(c.getHits.Value()),
		Sets:       uint64(c.sets.Value()),
		Deletes:    uint64(c.deletes.Value()),
		Compressed: uint64(c.compressed.Value()),
		Errors:     uint64(c.errors.Value()),
	}
}
