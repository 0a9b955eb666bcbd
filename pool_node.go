package bincache

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/pior/bincache/binprot"
	"github.com/pior/bincache/internal/coarsetime"
)

// NewNodePool creates the default connection pool.
//
// Idle connections are reused most-recently-released first, which lets the
// oldest ones reach IdleTimeout and close when load drops. Callers waiting
// for a connection are also served newest first. At most MaxSize
// connections exist at a time, counting those being established.
func NewNodePool(constructor func(ctx context.Context) (*Connection, error), config Config) (Pool, error) {
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &nodePool{
		constructor: constructor,
		idleTimeout: config.IdleTimeout,
		ctx:         ctx,
		cancel:      cancel,
		budget:      config.MaxSize,
	}, nil
}

type nodeResource struct {
	conn         *Connection
	pool         *nodePool
	creationTime time.Time
	lastUsedTime time.Time

	// guarded by pool.mu
	idleDeadline time.Time
	dead         bool
}

func (r *nodeResource) Value() *Connection {
	return r.conn
}

func (r *nodeResource) Release() {
	r.lastUsedTime = coarsetime.Now()
	r.pool.put(r)
}

func (r *nodeResource) ReleaseUnused() {
	r.pool.put(r)
}

func (r *nodeResource) Destroy() {
	// The watcher frees the slot
	_ = r.conn.Close()
}

func (r *nodeResource) CreationTime() time.Time {
	return r.creationTime
}

func (r *nodeResource) IdleDuration() time.Duration {
	return coarsetime.Since(r.lastUsedTime)
}

type acquireResult struct {
	res *nodeResource
	err error
}

type waiter struct {
	ch chan acquireResult
}

type nodePool struct {
	constructor func(ctx context.Context) (*Connection, error)
	idleTimeout time.Duration

	// ctx bounds establishments, which outlive the Acquire that started them.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	idle      []*nodeResource // stack: the last element was released last
	waiters   []*waiter       // served from the end
	budget    int32           // connections that may still be started
	live      int32
	idleTimer *time.Timer
	idleAt    time.Time // when idleTimer fires; zero when stopped
	closed    bool

	stats poolStatsCollector
}

func (p *nodePool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.stats.recordAcquireError()
		return nil, ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		res := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		if len(p.idle) == 0 {
			p.stopIdleTimer()
		}
		p.mu.Unlock()
		return res, nil
	}

	w := &waiter{ch: make(chan acquireResult, 1)}
	p.waiters = append(p.waiters, w)
	start := p.reserve()
	p.mu.Unlock()

	if start {
		go p.establish()
	}

	waitStart := time.Now()
	select {
	case r := <-w.ch:
		if r.err != nil {
			p.stats.recordAcquireError()
			return nil, r.err
		}
		p.stats.recordAcquireWait(time.Since(waitStart))
		return r.res, nil

	case <-ctx.Done():
		p.mu.Lock()
		removed := p.removeWaiter(w)
		p.mu.Unlock()

		if !removed {
			// Handed a result concurrently
			if r := <-w.ch; r.res != nil {
				r.res.ReleaseUnused()
			}
		}
		p.stats.recordAcquireError()
		return nil, ctx.Err()
	}
}

// reserve takes one slot from the budget. Must be called with p.mu held.
func (p *nodePool) reserve() bool {
	if p.budget <= 0 || p.closed {
		return false
	}
	p.budget--
	return true
}

// establish opens one connection for the reserved slot. On failure the slot
// is returned and every waiting caller gets the error.
func (p *nodePool) establish() {
	conn, err := p.constructor(p.ctx)
	if err != nil {
		p.mu.Lock()
		p.budget++
		waiters := p.waiters
		p.waiters = nil
		p.mu.Unlock()

		for _, w := range waiters {
			w.ch <- acquireResult{err: err}
		}
		return
	}

	p.stats.recordCreate()
	now := coarsetime.Now()
	res := &nodeResource{
		conn:         conn,
		pool:         p,
		creationTime: now,
		lastUsedTime: now,
	}

	p.mu.Lock()
	p.live++
	p.mu.Unlock()

	go p.watch(res)
	p.put(res)
}

// watch frees the slot of a connection once it closes, whoever closed it.
func (p *nodePool) watch(res *nodeResource) {
	<-res.conn.Done()

	p.mu.Lock()
	res.dead = true
	p.live--
	p.budget++
	if i := slices.Index(p.idle, res); i >= 0 {
		p.idle = slices.Delete(p.idle, i, i+1)
		if len(p.idle) == 0 {
			p.stopIdleTimer()
		}
	}
	start := len(p.waiters) > 0 && p.reserve()
	p.mu.Unlock()

	p.stats.recordDestroy()
	if err := res.conn.Err(); !errors.Is(err, binprot.ErrConnectionClosed) {
		plog.Debugf("%s: connection closed: %v", res.conn.Addr(), err)
	}

	if start {
		go p.establish()
	}
}

func (p *nodePool) put(res *nodeResource) {
	now := coarsetime.Now()

	p.mu.Lock()
	if res.dead {
		p.mu.Unlock()
		return
	}
	if p.closed || res.conn.Expired(now) {
		p.mu.Unlock()
		_ = res.conn.Close()
		return
	}

	if n := len(p.waiters); n > 0 {
		w := p.waiters[n-1]
		p.waiters[n-1] = nil
		p.waiters = p.waiters[:n-1]
		p.mu.Unlock()
		w.ch <- acquireResult{res: res}
		return
	}

	p.idle = append(p.idle, res)
	if p.idleTimeout > 0 {
		res.idleDeadline = res.lastUsedTime.Add(p.idleTimeout)
		if p.idleAt.IsZero() || res.idleDeadline.Before(p.idleAt) {
			p.armIdleTimer(res.idleDeadline, now)
		}
	}
	p.mu.Unlock()
}

func (p *nodePool) removeWaiter(w *waiter) bool {
	i := slices.Index(p.waiters, w)
	if i < 0 {
		return false
	}
	p.waiters = slices.Delete(p.waiters, i, i+1)
	return true
}

// armIdleTimer schedules expireIdle at deadline. Must be called with p.mu held.
func (p *nodePool) armIdleTimer(deadline, now time.Time) {
	p.idleAt = deadline
	d := deadline.Sub(now)
	if p.idleTimer == nil {
		p.idleTimer = time.AfterFunc(d, p.expireIdle)
		return
	}
	p.idleTimer.Reset(d)
}

func (p *nodePool) stopIdleTimer() {
	p.idleAt = time.Time{}
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
}

// expireIdle closes idle connections past their deadline and re-arms the
// timer for the earliest remaining one.
func (p *nodePool) expireIdle() {
	now := coarsetime.Now()

	p.mu.Lock()
	p.idleAt = time.Time{}
	var expired []*nodeResource
	var next time.Time
	kept := p.idle[:0]
	for _, res := range p.idle {
		if !res.idleDeadline.After(now) {
			expired = append(expired, res)
			continue
		}
		if next.IsZero() || res.idleDeadline.Before(next) {
			next = res.idleDeadline
		}
		kept = append(kept, res)
	}
	clear(p.idle[len(kept):])
	p.idle = kept
	if !next.IsZero() && !p.closed {
		p.armIdleTimer(next, now)
	}
	p.mu.Unlock()

	for _, res := range expired {
		plog.Debugf("%s: closing idle connection", res.conn.Addr())
		_ = res.conn.Close()
	}
}

func (p *nodePool) AcquireAllIdle() []Resource {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.stopIdleTimer()
	p.mu.Unlock()

	resources := make([]Resource, len(idle))
	for i, res := range idle {
		resources[i] = res
	}
	return resources
}

func (p *nodePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	waiters := p.waiters
	p.waiters = nil
	p.stopIdleTimer()
	p.mu.Unlock()

	p.cancel()
	for _, res := range idle {
		_ = res.conn.Close()
	}
	for _, w := range waiters {
		w.ch <- acquireResult{err: ErrPoolClosed}
	}
}

// Stats returns a snapshot of pool statistics.
func (p *nodePool) Stats() PoolStats {
	p.mu.Lock()
	live, idle := p.live, int32(len(p.idle))
	p.mu.Unlock()

	s := p.stats.snapshot()
	s.TotalConns = live
	s.IdleConns = idle
	s.ActiveConns = live - idle
	return s
}
