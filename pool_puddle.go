package bincache

import (
	"context"
	"sync/atomic"

	"github.com/jackc/puddle/v2"

	"github.com/pior/bincache/internal/coarsetime"
)

// NewPuddlePool creates a connection pool backed by jackc/puddle.
//
// It is bounded by MaxSize like the default pool. It has no idle timer:
// idle and lifetime limits are enforced on release and by the client's
// health check loop, so set HealthCheckInterval when using it.
func NewPuddlePool(constructor func(ctx context.Context) (*Connection, error), config Config) (Pool, error) {
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	p := &puddlePool{}

	poolConfig := &puddle.Config[*Connection]{
		Constructor: func(ctx context.Context) (*Connection, error) {
			conn, err := constructor(ctx)
			if err == nil {
				p.createdConns.Add(1)
			}
			return conn, err
		},
		Destructor: func(c *Connection) {
			p.destroyedConns.Add(1)
			_ = c.Close()
		},
		MaxSize: config.MaxSize,
	}

	pool, err := puddle.NewPool(poolConfig)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// puddlePool wraps puddle.Pool to implement our Pool interface.
type puddlePool struct {
	pool           *puddle.Pool[*Connection]
	createdConns   atomic.Uint64
	destroyedConns atomic.Uint64
}

// puddleResource drops closed and expired connections on release instead of
// returning them to the pool.
type puddleResource struct {
	*puddle.Resource[*Connection]
}

func (r puddleResource) Release() {
	conn := r.Value()
	if conn.IsClosed() || conn.Expired(coarsetime.Now()) {
		r.Resource.Destroy()
		return
	}
	r.Resource.Release()
}

func (p *puddlePool) Acquire(ctx context.Context) (Resource, error) {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		if err == puddle.ErrClosedPool {
			return nil, ErrPoolClosed
		}
		return nil, err
	}
	return puddleResource{res}, nil
}

func (p *puddlePool) AcquireAllIdle() []Resource {
	puddleResources := p.pool.AcquireAllIdle()
	resources := make([]Resource, len(puddleResources))
	for i, res := range puddleResources {
		resources[i] = puddleResource{res}
	}
	return resources
}

func (p *puddlePool) Close() {
	p.pool.Close()
}

// Stats returns a snapshot of pool statistics by converting puddle's stats to our format.
func (p *puddlePool) Stats() PoolStats {
	s := p.pool.Stat()

	return PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()), // Acquires that had to wait (pool was empty)
		CreatedConns:      p.createdConns.Load(),
		DestroyedConns:    p.destroyedConns.Load(),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}
