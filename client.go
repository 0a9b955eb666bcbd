package bincache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pior/bincache/binprot"
)

// ErrInvalidKey is returned for an empty key or a key longer than 250 bytes.
var ErrInvalidKey = errors.New("bincache: invalid key")

// Item is a cache entry.
type Item struct {
	Key string

	// Value is a string, a number, a bool, nil, or a value graph handled by
	// package bob. Get returns raw values as string and numbers as float64.
	Value any

	// TTL of the item on Set. Zero (NoTTL) means no expiration.
	// The server counts in 2-second ticks; shorter TTLs become one tick.
	TTL time.Duration

	Found bool // indicates whether the key was found in cache
}

type Querier interface {
	Get(ctx context.Context, key string) (Item, error)
	Set(ctx context.Context, item Item) error
	Delete(ctx context.Context, key string) error
}

// Client is a cache client backed by a connection pool spread over the
// cluster nodes. It is safe for concurrent use.
type Client struct {
	config  Config
	cluster *cluster
	pool    Pool

	stopHealthCheck chan struct{}
	closeOnce       sync.Once

	stats *clientStatsCollector
}

var _ Querier = (*Client)(nil)

// NewClient creates a client. No connection is opened until the first request.
func NewClient(config Config) (*Client, error) {
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	cl := newCluster(config)
	conn := newConnector(config, cl)

	poolFactory := config.Pool
	if poolFactory == nil {
		poolFactory = NewNodePool
	}
	pool, err := poolFactory(conn.connect, config)
	if err != nil {
		return nil, err
	}

	client := &Client{
		config:          config,
		cluster:         cl,
		pool:            pool,
		stopHealthCheck: make(chan struct{}),
		stats:           newClientStatsCollector(),
	}

	// Start health check goroutine if enabled
	if config.HealthCheckInterval > 0 {
		go client.healthCheckLoop()
	}

	return client, nil
}

// Close closes the client and its connections.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stopHealthCheck)
		c.pool.Close()
	})
}

// healthCheckLoop periodically checks idle connections for health and lifecycle limits.
func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkPoolConnections()
		}
	}
}

// checkPoolConnections checks all idle connections and destroys those that are stale or unhealthy.
func (c *Client) checkPoolConnections() {
	now := time.Now()

	for _, res := range c.pool.AcquireAllIdle() {
		conn := res.Value()

		if conn.IsClosed() || conn.Expired(now) {
			res.Destroy()
			continue
		}

		if c.config.IdleTimeout > 0 && res.IdleDuration() > c.config.IdleTimeout {
			res.Destroy()
			continue
		}

		if err := c.healthCheck(conn); err != nil {
			plog.Warningf("%s: health check failed: %v", conn.Addr(), err)
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}
}

// healthCheck sends a NOOP and waits for its answer.
func (c *Client) healthCheck(conn *Connection) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.DialTimeout)
	defer cancel()

	resp, err := conn.Send(ctx, binprot.BuildRequest(binprot.OpNoop, "", nil, nil))
	if err != nil {
		return err
	}
	return resp.Err()
}

// execRequest executes a single request-response cycle with proper connection management.
// The connection is destroyed when the error says it is unusable, and released otherwise.
// A connection found closed when acquired is discarded and acquisition retried once.
func (c *Client) execRequest(ctx context.Context, frame []byte) (*binprot.Response, error) {
	for attempt := 0; ; attempt++ {
		resource, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}

		conn := resource.Value()
		if attempt == 0 && conn.IsClosed() {
			resource.Destroy()
			continue
		}

		resp, err := conn.Send(ctx, frame)
		if err != nil {
			if binprot.ShouldCloseConnection(err) {
				resource.Destroy()
			} else {
				resource.Release()
			}
			return nil, err
		}

		resource.Release()
		return resp, nil
	}
}

func validateKey(key string) error {
	if len(key) == 0 || len(key) > binprot.MaxKeyLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(key))
	}
	return nil
}

// Get retrieves a single item. A missing key is not an error: the returned
// item has Found set to false.
func (c *Client) Get(ctx context.Context, key string) (Item, error) {
	item, err := c.get(ctx, key)
	if err != nil {
		c.stats.recordError()
		return Item{}, err
	}
	c.stats.recordGet(item.Found)
	return item, nil
}

func (c *Client) get(ctx context.Context, key string) (Item, error) {
	if err := validateKey(key); err != nil {
		return Item{}, err
	}

	resp, err := c.execRequest(ctx, binprot.BuildRequest(binprot.OpGet, key, nil, nil))
	if err != nil {
		return Item{}, err
	}

	if resp.IsMiss() {
		return Item{Key: key, Found: false}, nil
	}
	if err := resp.Err(); err != nil {
		return Item{}, err
	}

	if len(resp.Extra) < 4 {
		return Item{}, errShortExtras
	}
	flags := binary.BigEndian.Uint32(resp.Extra)
	payload := resp.Value

	if flags&flagCompressed != 0 {
		flags &^= flagCompressed
		if payload, err = inflate(payload); err != nil {
			return Item{}, fmt.Errorf("bincache: %s: inflate: %w", key, err)
		}
	}

	value, err := decodeValue(key, flags, payload)
	if err != nil {
		return Item{}, err
	}

	return Item{
		Key:   key,
		Value: value,
		Found: true,
	}, nil
}

// Set stores an item, replacing any existing value.
func (c *Client) Set(ctx context.Context, item Item) error {
	compressed, err := c.set(ctx, item)
	if err != nil {
		c.stats.recordError()
		return err
	}
	c.stats.recordSet(compressed)
	return nil
}

func (c *Client) set(ctx context.Context, item Item) (bool, error) {
	if err := validateKey(item.Key); err != nil {
		return false, err
	}

	flags, payload, err := encodeValue(item.Value)
	if err != nil {
		return false, fmt.Errorf("bincache: %s: %w", item.Key, err)
	}

	compressed := false
	if c.config.CompressThreshold > 0 && len(payload) > c.config.CompressThreshold {
		if payload, err = deflate(payload); err != nil {
			return false, fmt.Errorf("bincache: %s: deflate: %w", item.Key, err)
		}
		flags |= flagCompressed
		compressed = true
	}

	req := binprot.BuildRequest(binprot.OpSet, item.Key, payload, setExtras(flags, item.TTL))
	resp, err := c.execRequest(ctx, req)
	if err != nil {
		return false, err
	}
	return compressed, resp.Err()
}

// Delete removes an item. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.delete(ctx, key); err != nil {
		c.stats.recordError()
		return err
	}
	c.stats.recordDelete()
	return nil
}

func (c *Client) delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	resp, err := c.execRequest(ctx, binprot.BuildRequest(binprot.OpDelete, key, nil, nil))
	if err != nil {
		return err
	}
	if resp.IsMiss() {
		return nil
	}
	return resp.Err()
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// PoolStats returns a snapshot of connection pool statistics.
func (c *Client) PoolStats() PoolStats {
	return c.pool.Stats()
}

// NodeStats returns the state of every node, in configuration order.
func (c *Client) NodeStats() []NodeStats {
	return c.cluster.stats()
}
