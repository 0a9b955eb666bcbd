package bincache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Defaults applied to zero Config fields.
const (
	DefaultAddr              = "127.0.0.1:11211"
	DefaultMaxSize           = 30
	DefaultMaxRetries        = 3
	DefaultRetryTimeout      = 400 * time.Millisecond
	DefaultIdleTimeout       = 5 * time.Second
	DefaultMaxConnLifetime   = 5 * time.Minute
	DefaultForbidCount       = 10
	DefaultCompressThreshold = 65535
	DefaultDialTimeout       = 5 * time.Second
)

// NoTTL stores an item without expiration.
const NoTTL = 0

// NodeConfig describes one cache server.
// Zero fields inherit the value from Config.
type NodeConfig struct {
	// Network is "tcp" (default) or "unix".
	Network string

	// Addr is host:port for tcp, the socket path for unix.
	Addr string

	// User and Password enable SASL PLAIN authentication on new connections.
	User     string
	Password string

	// ForbidCount is how many connection attempts skip this node after it
	// failed, spread over the other nodes. Ignored with a single node.
	ForbidCount int

	DialTimeout time.Duration
}

// Config holds configuration for the client and its connection pool.
type Config struct {
	// Nodes lists the servers. Connections are spread across them round-robin.
	// If empty, a single node at Addr is used.
	Nodes []NodeConfig

	// Addr is the server address when Nodes is empty. Default 127.0.0.1:11211.
	Addr string

	// User and Password are the default credentials for every node.
	User     string
	Password string

	// MaxSize is the maximum number of connections, counting connections
	// being established. Default 30.
	MaxSize int32

	// MaxRetries is the number of extra connection attempts after a failed one.
	// Default 3. Use a negative value to disable retries.
	MaxRetries int

	// RetryTimeout is the delay between attempts when there is a single node.
	// With several nodes the next node is tried immediately. Default 400ms.
	RetryTimeout time.Duration

	// IdleTimeout closes connections left unused for this long. Default 5s.
	// Use a negative value to keep idle connections forever.
	IdleTimeout time.Duration

	// MaxConnLifetime closes connections on release once they are this old.
	// Default 5m. Use a negative value for no limit.
	MaxConnLifetime time.Duration

	// ForbidCount is the default for NodeConfig.ForbidCount. Default 10.
	ForbidCount int

	// DialTimeout bounds each connection attempt. Default 5s.
	DialTimeout time.Duration

	// CompressThreshold is the payload size above which values are deflated.
	// Default 65535. Use a negative value to disable compression.
	CompressThreshold int

	// HealthCheckInterval is how often idle connections are probed with NOOP.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// Pool is the connection pool factory. If nil, NewNodePool is used.
	// NewPuddlePool is the alternative.
	Pool func(constructor func(ctx context.Context) (*Connection, error), config Config) (Pool, error)

	// NewCircuitBreaker creates a circuit breaker guarding connection attempts
	// to one node. Called once per node. If nil, no circuit breaker is used.
	NewCircuitBreaker func(addr string) *gobreaker.CircuitBreaker[net.Conn]

	// Dialer is used to open connections. If nil, a net.Dialer is used.
	Dialer Dialer
}

// Dialer opens transport connections. *net.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// withDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.MaxSize == 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryTimeout == 0 {
		c.RetryTimeout = DefaultRetryTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = DefaultMaxConnLifetime
	}
	if c.ForbidCount == 0 {
		c.ForbidCount = DefaultForbidCount
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.CompressThreshold == 0 {
		c.CompressThreshold = DefaultCompressThreshold
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{}
	}
	return c
}

func (c Config) validate() error {
	if c.MaxSize < 0 {
		return fmt.Errorf("bincache: invalid MaxSize %d", c.MaxSize)
	}
	for _, n := range c.Nodes {
		if n.Addr == "" {
			return errors.New("bincache: node without address")
		}
		switch n.Network {
		case "", "tcp", "tcp4", "tcp6", "unix":
		default:
			return fmt.Errorf("bincache: node %s: unsupported network %q", n.Addr, n.Network)
		}
	}
	return nil
}

// nodes returns the node list with every field resolved. Node settings are
// copied here once: later changes to Config do not reach running nodes.
func (c Config) nodes() []NodeConfig {
	nodes := c.Nodes
	if len(nodes) == 0 {
		nodes = []NodeConfig{{Addr: c.Addr}}
	}

	resolved := make([]NodeConfig, len(nodes))
	for i, n := range nodes {
		if n.Network == "" {
			n.Network = "tcp"
		}
		if n.User == "" && n.Password == "" {
			n.User, n.Password = c.User, c.Password
		}
		if n.ForbidCount == 0 {
			n.ForbidCount = c.ForbidCount
		}
		if n.DialTimeout == 0 {
			n.DialTimeout = c.DialTimeout
		}
		resolved[i] = n
	}
	return resolved
}
