package testutils

import (
	"bytes"
	"net"
	"sync"
	"time"
)

// ConnectionMock is a scripted net.Conn for testing.
//
// Each chunk passed to NewConnectionMock or Feed is returned by exactly one
// Read (split only if the read buffer is smaller), so tests control how the
// stream is cut. Once the script is exhausted Read blocks until Close, like
// an idle socket.
type ConnectionMock struct {
	chunks chan []byte
	rest   []byte // unread part of the current chunk; owned by Read

	mu       sync.Mutex
	writeBuf bytes.Buffer
	writeErr error

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConnectionMock creates a mock connection that will return the given chunks.
func NewConnectionMock(chunks ...[]byte) *ConnectionMock {
	m := &ConnectionMock{
		chunks: make(chan []byte, 1024),
		closed: make(chan struct{}),
	}
	for _, c := range chunks {
		m.Feed(c)
	}
	return m
}

// Feed queues one more chunk for Read.
func (m *ConnectionMock) Feed(chunk []byte) {
	m.chunks <- bytes.Clone(chunk)
}

func (m *ConnectionMock) Read(b []byte) (n int, err error) {
	if len(m.rest) == 0 {
		select {
		case m.rest = <-m.chunks:
		case <-m.closed:
			return 0, net.ErrClosed
		}
	}
	n = copy(b, m.rest)
	m.rest = m.rest[n:]
	return n, nil
}

func (m *ConnectionMock) Write(b []byte) (n int, err error) {
	select {
	case <-m.closed:
		return 0, net.ErrClosed
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.writeBuf.Write(b)
}

// SetWriteError makes every following Write fail with err.
func (m *ConnectionMock) SetWriteError(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

func (m *ConnectionMock) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// IsClosed reports whether Close was called.
func (m *ConnectionMock) IsClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11211}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error      { return nil }
func (m *ConnectionMock) SetReadDeadline(t time.Time) error  { return nil }
func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return nil }

// Written returns a copy of all bytes written to the mock connection.
func (m *ConnectionMock) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.writeBuf.Bytes())
}
