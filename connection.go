package bincache

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pior/bincache/binprot"
)

const readBufferSize = 64 * 1024

// Connection is one transport connection to a cache server.
//
// Requests may be pipelined: Send can be called concurrently and responses
// are matched to requests in write order. A background reader feeds the
// stream framer; a fatal framing fault or a read error closes the
// connection and fails every pending request.
type Connection struct {
	conn      net.Conn
	addr      string
	createdAt time.Time
	expiresAt time.Time // zero: no lifetime limit

	writeMu  sync.Mutex
	opaque   atomic.Uint32
	inflight binprot.Inflight

	closeOnce sync.Once
	done      chan struct{}
	err       error // set before done is closed
}

// NewConnection wraps an established transport connection and starts its
// reader. The connection has no lifetime limit.
func NewConnection(netConn net.Conn) *Connection {
	return newConnection(netConn, netConn.RemoteAddr().String(), 0)
}

func newConnection(netConn net.Conn, addr string, maxLifetime time.Duration) *Connection {
	now := time.Now()
	c := &Connection{
		conn:      netConn,
		addr:      addr,
		createdAt: now,
		done:      make(chan struct{}),
	}
	if maxLifetime > 0 {
		c.expiresAt = now.Add(maxLifetime)
	}
	go c.readLoop()
	return c
}

// Send writes a request frame and waits for its response.
//
// The frame's opaque is overwritten. If ctx ends first the connection is
// closed, since its response can no longer be matched reliably; the
// returned *binprot.ConnectionError tells the caller to discard it.
func (c *Connection) Send(ctx context.Context, frame []byte) (*binprot.Response, error) {
	select {
	case <-c.done:
		return nil, c.err
	default:
	}

	c.writeMu.Lock()
	id := c.opaque.Add(1)
	binprot.SetOpaque(frame, id)
	result := c.inflight.Push(id)

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	_, err := c.conn.Write(frame)
	c.writeMu.Unlock()

	if err != nil {
		err = &binprot.ConnectionError{Op: "write", Err: err}
		c.fail(err)
		return nil, err
	}

	select {
	case res := <-result:
		return res.Response, res.Err
	case <-ctx.Done():
		err := &binprot.ConnectionError{Op: "wait", Err: ctx.Err()}
		c.fail(err)
		return nil, err
	}
}

func (c *Connection) readLoop() {
	buf := make([]byte, readBufferSize)
	var framer binprot.Framer

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if ferr := framer.Feed(buf[:n], c.dispatch); ferr != nil {
				if binprot.IsFatal(ferr) {
					plog.Warningf("%s: closing connection: %v", c.addr, ferr)
					c.fail(ferr)
					return
				}
				plog.Debugf("%s: %v", c.addr, ferr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			c.fail(&binprot.ConnectionError{Op: "read", Err: err})
			return
		}
	}
}

func (c *Connection) dispatch(frame []byte) {
	if err := c.inflight.Resolve(frame); err != nil {
		plog.Warningf("%s: dropped response %d: %v", c.addr, binprot.Opaque(frame), err)
	}
}

// fail closes the connection with err as the reason. Only the first call
// has an effect.
func (c *Connection) fail(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		_ = c.conn.Close()
		c.inflight.FailAll(err)
		close(c.done)
	})
}

// Close closes the connection. Pending requests fail with
// binprot.ErrConnectionClosed.
func (c *Connection) Close() error {
	c.fail(binprot.ErrConnectionClosed)
	return nil
}

// Done is closed when the connection is closed, for any reason.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection was closed, or nil while it is open.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// IsClosed reports whether the connection is closed.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Addr returns the address of the node this connection was opened to.
func (c *Connection) Addr() string {
	return c.addr
}

// CreatedAt returns when the connection was established.
func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

// Expired reports whether the connection is past its maximum lifetime at now.
func (c *Connection) Expired(now time.Time) bool {
	return !c.expiresAt.IsZero() && now.After(c.expiresAt)
}

// InFlight returns the number of requests waiting for a response.
func (c *Connection) InFlight() int {
	return c.inflight.Len()
}
