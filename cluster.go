package bincache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/pior/bincache/binprot"
)

// node is one server of the cluster and its back-off state.
type node struct {
	config  NodeConfig
	penalty int // credits granted on failure
	breaker *gobreaker.CircuitBreaker[net.Conn]

	credits int // guarded by cluster.mu

	connects atomic.Uint64
	failures atomic.Uint64
}

// NodeStats describes one node.
type NodeStats struct {
	Addr string
	// Credits is the number of upcoming connection attempts that will skip
	// this node. Non-zero after a failure.
	Credits  int
	Connects uint64 // successful connection attempts
	Failures uint64 // failed connection attempts
	// CircuitBreakerState is empty when no circuit breaker is configured.
	CircuitBreakerState string
}

// cluster picks the node for each new connection.
//
// Nodes are used round-robin. A node that fails is skipped for its next
// `penalty` turns, where penalty = ceil(ForbidCount / (N-1)): the other
// nodes together absorb about ForbidCount attempts before it is retried.
type cluster struct {
	mu    sync.Mutex
	nodes []*node
	next  int
}

func newCluster(config Config) *cluster {
	configs := config.nodes()
	c := &cluster{nodes: make([]*node, len(configs))}

	others := len(configs) - 1
	for i, nc := range configs {
		n := &node{config: nc}
		if others > 0 {
			n.penalty = (nc.ForbidCount + others - 1) / others
		}
		if config.NewCircuitBreaker != nil {
			n.breaker = config.NewCircuitBreaker(nc.Addr)
		}
		c.nodes[i] = n
	}
	return c
}

func (c *cluster) size() int {
	return len(c.nodes)
}

// pick returns the next node without credits, consuming one credit of
// every node it skips.
func (c *cluster) pick() *node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		n := c.nodes[c.next]
		c.next = (c.next + 1) % len(c.nodes)
		if n.credits > 0 {
			n.credits--
			continue
		}
		return n
	}
}

func (c *cluster) penalize(n *node) {
	n.failures.Add(1)
	c.mu.Lock()
	n.credits = n.penalty
	c.mu.Unlock()
}

func (c *cluster) reward(n *node) {
	n.connects.Add(1)
	c.mu.Lock()
	n.credits = 0
	c.mu.Unlock()
}

func (c *cluster) stats() []NodeStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := make([]NodeStats, len(c.nodes))
	for i, n := range c.nodes {
		stats[i] = NodeStats{
			Addr:     n.config.Addr,
			Credits:  n.credits,
			Connects: n.connects.Load(),
			Failures: n.failures.Load(),
		}
		if n.breaker != nil {
			stats[i].CircuitBreakerState = n.breaker.State().String()
		}
	}
	return stats
}

// connector establishes ready-to-use connections: dialed, authenticated,
// with retries across the cluster.
type connector struct {
	cluster      *cluster
	dialer       Dialer
	maxRetries   int
	retryTimeout time.Duration
	maxLifetime  time.Duration
}

func newConnector(config Config, cl *cluster) *connector {
	lifetime := config.MaxConnLifetime
	if lifetime < 0 {
		lifetime = 0
	}
	return &connector{
		cluster:      cl,
		dialer:       config.Dialer,
		maxRetries:   config.MaxRetries,
		retryTimeout: config.RetryTimeout,
		maxLifetime:  lifetime,
	}
}

// connect returns a new connection or the last error once every attempt
// failed. Authentication failures are returned immediately.
func (c *connector) connect(ctx context.Context) (*Connection, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && c.cluster.size() == 1 {
			select {
			case <-time.After(c.retryTimeout):
			case <-ctx.Done():
				return nil, fmt.Errorf("bincache: connect: %w (last error: %v)", ctx.Err(), lastErr)
			}
		}

		n := c.cluster.pick()
		conn, err := c.connectNode(ctx, n)
		if err == nil {
			c.cluster.reward(n)
			plog.Infof("connected to %s", n.config.Addr)
			return conn, nil
		}

		var authErr *binprot.AuthError
		if errors.As(err, &authErr) {
			plog.Errorf("%s: %v", n.config.Addr, err)
			return nil, err
		}

		c.cluster.penalize(n)
		lastErr = err
		plog.Warningf("connect to %s failed (attempt %d/%d): %v", n.config.Addr, attempt+1, c.maxRetries+1, err)

		if ctx.Err() != nil {
			break
		}
	}

	plog.Errorf("giving up after %d connection attempts: %v", c.maxRetries+1, lastErr)
	return nil, lastErr
}

func (c *connector) connectNode(ctx context.Context, n *node) (*Connection, error) {
	netConn, err := c.dial(ctx, n)
	if err != nil {
		return nil, &binprot.ConnectionError{Op: "dial", Err: err}
	}

	conn := newConnection(netConn, n.config.Addr, c.maxLifetime)

	if n.config.User != "" || n.config.Password != "" {
		if err := authenticate(ctx, conn, n.config); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (c *connector) dial(ctx context.Context, n *node) (net.Conn, error) {
	dial := func() (net.Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, n.config.DialTimeout)
		defer cancel()
		return c.dialer.DialContext(dialCtx, n.config.Network, n.config.Addr)
	}

	if n.breaker == nil {
		return dial()
	}
	return n.breaker.Execute(dial)
}

func authenticate(ctx context.Context, conn *Connection, nc NodeConfig) error {
	ctx, cancel := context.WithTimeout(ctx, nc.DialTimeout)
	defer cancel()

	resp, err := conn.Send(ctx, binprot.NewAuthRequest(nc.User, nc.Password))
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return &binprot.AuthError{Status: resp.Status, Message: string(resp.Value)}
	}
	return nil
}
