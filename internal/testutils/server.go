package testutils

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pior/bincache/binprot"
)

// expiryTick is the unit of the set expiry field.
const expiryTick = 2 * time.Second

type storedItem struct {
	flags   uint32
	value   []byte
	expires time.Time // zero: never
}

// Server is an in-process cache server speaking the binary protocol:
// get, set, delete, noop and SASL PLAIN authentication.
//
// Pipelined requests read together are answered with a single write, so
// clients see coalesced responses. WithChunkSize splits every write.
type Server struct {
	tb       testing.TB
	listener net.Listener

	user, password string
	chunkSize      int

	mu    sync.Mutex
	items map[string]storedItem
	conns map[net.Conn]struct{}
	clock time.Duration // added to time.Now

	reject   atomic.Bool
	drop     atomic.Int32
	corrupt  atomic.Bool
	accepted atomic.Int64
	requests atomic.Int64

	wg sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAuth requires SASL PLAIN authentication with these credentials before
// any other command.
func WithAuth(user, password string) ServerOption {
	return func(s *Server) {
		s.user, s.password = user, password
	}
}

// WithChunkSize splits every response write into chunks of at most n bytes.
func WithChunkSize(n int) ServerOption {
	return func(s *Server) {
		s.chunkSize = n
	}
}

// NewServer starts a server on a random local TCP port. It is closed when
// the test ends.
func NewServer(tb testing.TB, opts ...ServerOption) *Server {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("testutils: listen: %v", err)
	}
	return startServer(tb, ln, opts)
}

// NewUnixServer starts a server on a unix socket in a temporary directory.
func NewUnixServer(tb testing.TB, opts ...ServerOption) *Server {
	tb.Helper()
	// TempDir paths can exceed the socket path limit
	dir, err := os.MkdirTemp("", "bincache")
	if err != nil {
		tb.Fatalf("testutils: %v", err)
	}
	tb.Cleanup(func() { _ = os.RemoveAll(dir) })

	ln, err := net.Listen("unix", filepath.Join(dir, "cache.sock"))
	if err != nil {
		tb.Fatalf("testutils: listen: %v", err)
	}
	return startServer(tb, ln, opts)
}

func startServer(tb testing.TB, ln net.Listener, opts []ServerOption) *Server {
	s := &Server{
		tb:       tb,
		listener: ln,
		items:    make(map[string]storedItem),
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	tb.Cleanup(s.Close)
	return s
}

// Addr returns the listening address (host:port or socket path).
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Network returns "tcp" or "unix".
func (s *Server) Network() string {
	return s.listener.Addr().Network()
}

// Close stops the server and closes every client connection.
func (s *Server) Close() {
	_ = s.listener.Close()
	s.CloseConnections()
	s.wg.Wait()
}

// CloseConnections closes every open client connection, leaving the
// listener up.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// SetRejectConnections makes the server close new connections right after
// accepting them.
func (s *Server) SetRejectConnections(reject bool) {
	s.reject.Store(reject)
}

// DropResponses makes the server process the next n requests without
// answering them.
func (s *Server) DropResponses(n int) {
	s.drop.Store(int32(n))
}

// CorruptNextResponse makes the next response start with a bad magic byte.
func (s *Server) CorruptNextResponse() {
	s.corrupt.Store(true)
}

// Advance moves the server clock forward, expiring items.
func (s *Server) Advance(d time.Duration) {
	s.mu.Lock()
	s.clock += d
	s.mu.Unlock()
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// OpenConnections returns the number of client connections currently open.
func (s *Server) OpenConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Requests returns the number of requests received so far.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// Item returns the raw stored flags and value of key.
func (s *Server) Item(key string) (flags uint32, value []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.lookup(key)
	return item.flags, item.value, ok
}

// SetItem stores a raw item.
func (s *Server) SetItem(key string, flags uint32, value []byte) {
	s.mu.Lock()
	s.items[key] = storedItem{flags: flags, value: bytes.Clone(value)}
	s.mu.Unlock()
}

// ExpiresIn returns how long key has left to live, and false if it does not
// expire or does not exist.
func (s *Server) ExpiresIn(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.lookup(key)
	if !ok || item.expires.IsZero() {
		return 0, false
	}
	return item.expires.Sub(s.now()), true
}

// now must be called with s.mu held.
func (s *Server) now() time.Time {
	return time.Now().Add(s.clock)
}

// lookup must be called with s.mu held.
func (s *Server) lookup(key string) (storedItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return storedItem{}, false
	}
	if !item.expires.IsZero() && !s.now().Before(item.expires) {
		delete(s.items, key)
		return storedItem{}, false
	}
	return item, true
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)

		if s.reject.Load() {
			_ = conn.Close()
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	r := bufio.NewReader(conn)
	var out bytes.Buffer
	authenticated := s.user == "" && s.password == ""

	for {
		frame, err := readRequest(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.tb.Logf("testutils: read request: %v", err)
			}
			return
		}
		s.requests.Add(1)

		resp := s.handle(frame, &authenticated)

		if s.drop.Load() > 0 && s.drop.Add(-1) >= 0 {
			resp = nil
		} else if s.corrupt.CompareAndSwap(true, false) {
			resp[0] = 0x00
		}
		out.Write(resp)

		// Answer everything read so far in one write
		if r.Buffered() > 0 || out.Len() == 0 {
			continue
		}
		if err := s.write(conn, out.Bytes()); err != nil {
			return
		}
		out.Reset()
	}
}

func (s *Server) write(conn net.Conn, data []byte) error {
	if s.chunkSize <= 0 {
		_, err := conn.Write(data)
		return err
	}
	for len(data) > 0 {
		n := min(s.chunkSize, len(data))
		if _, err := conn.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func readRequest(r *bufio.Reader) ([]byte, error) {
	header := make([]byte, binprot.HeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[0] != binprot.MagicRequest {
		return nil, errors.New("bad request magic")
	}

	bodyLen := binary.BigEndian.Uint32(header[8:])
	frame := make([]byte, binprot.HeaderLen+int(bodyLen))
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[binprot.HeaderLen:]); err != nil {
		return nil, err
	}
	return frame, nil
}

func (s *Server) handle(frame []byte, authenticated *bool) []byte {
	// Requests share the response frame layout
	req, err := binprot.ParseResponse(frame)
	if err != nil {
		return binprot.BuildResponse(binprot.OpCode(frame[1]), binprot.StatusInvalidArguments, binprot.Opaque(frame), "", []byte(err.Error()), nil)
	}

	reply := func(status binprot.Status, value, extra []byte) []byte {
		return binprot.BuildResponse(req.OpCode, status, req.Opaque, "", value, extra)
	}

	if req.OpCode == binprot.OpSASLAuth {
		if req.Key != binprot.SASLMechanismPlain {
			return reply(binprot.StatusAuthError, []byte("Unsupported mechanism"), nil)
		}
		want := "\x00" + s.user + "\x00" + s.password
		if string(req.Value) != want {
			return reply(binprot.StatusAuthError, []byte("Auth failure"), nil)
		}
		*authenticated = true
		return reply(binprot.StatusOK, []byte("Authenticated"), nil)
	}

	if !*authenticated {
		return reply(binprot.StatusAuthError, []byte("Auth required"), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.OpCode {
	case binprot.OpGet:
		item, ok := s.lookup(req.Key)
		if !ok {
			return reply(binprot.StatusKeyNotFound, []byte("Not found"), nil)
		}
		flags := make([]byte, 4)
		binary.BigEndian.PutUint32(flags, item.flags)
		return reply(binprot.StatusOK, item.value, flags)

	case binprot.OpSet:
		if len(req.Extra) != 8 {
			return reply(binprot.StatusInvalidArguments, []byte("Invalid arguments"), nil)
		}
		item := storedItem{
			flags: binary.BigEndian.Uint32(req.Extra),
			value: bytes.Clone(req.Value),
		}
		if ticks := binary.BigEndian.Uint32(req.Extra[4:]); ticks > 0 {
			item.expires = s.now().Add(time.Duration(ticks) * expiryTick)
		}
		s.items[req.Key] = item
		return reply(binprot.StatusOK, nil, nil)

	case binprot.OpDelete:
		if _, ok := s.lookup(req.Key); !ok {
			return reply(binprot.StatusKeyNotFound, []byte("Not found"), nil)
		}
		delete(s.items, req.Key)
		return reply(binprot.StatusOK, nil, nil)

	case binprot.OpNoop:
		return reply(binprot.StatusOK, nil, nil)

	default:
		return reply(binprot.StatusUnknownCommand, []byte("Unknown command"), nil)
	}
}
