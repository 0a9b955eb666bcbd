// Package bufpool recycles bytes.Buffers used to build frames and payloads.
package bufpool

import (
	"bytes"
	"sync"
)

// Pool is a sync.Pool of *bytes.Buffer with a capacity cap on returned buffers.
type Pool struct {
	pool   sync.Pool
	maxCap int
}

// New returns a pool handing out buffers with initialSize capacity.
// Buffers that grew past maxCap are dropped on Put instead of being kept alive.
func New(initialSize, maxCap int) *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, initialSize))
			},
		},
		maxCap: maxCap,
	}
}

func (p *Pool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

func (p *Pool) Put(buf *bytes.Buffer) {
	if p.maxCap > 0 && buf.Cap() > p.maxCap {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}
