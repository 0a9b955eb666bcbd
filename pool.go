package bincache

import (
	"context"
	"errors"
	"time"
)

// ErrPoolClosed is returned by Acquire once the pool is closed.
var ErrPoolClosed = errors.New("bincache: pool closed")

// Pool hands out connections to the client.
type Pool interface {
	// Acquire returns an open connection, waiting for one if the pool is at
	// its size limit.
	Acquire(ctx context.Context) (Resource, error)

	// AcquireAllIdle takes every idle connection out of the pool, for health
	// checks. Each must be released or destroyed.
	AcquireAllIdle() []Resource

	// Close closes idle connections and fails waiting callers. Connections in
	// use are closed when released.
	Close()

	Stats() PoolStats
}

// Resource is a connection checked out of a Pool.
type Resource interface {
	Value() *Connection

	// Release returns the connection to the pool.
	Release()

	// ReleaseUnused returns the connection without marking it used, so its
	// idle time keeps running.
	ReleaseUnused()

	// Destroy closes the connection and frees its slot.
	Destroy()

	CreationTime() time.Time
	IdleDuration() time.Duration
}
