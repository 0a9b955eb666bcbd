package bincache

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	c := Config{}.withDefaults()

	assert.Equal(t, DefaultAddr, c.Addr)
	assert.Equal(t, int32(DefaultMaxSize), c.MaxSize)
	assert.Equal(t, DefaultMaxRetries, c.MaxRetries)
	assert.Equal(t, DefaultRetryTimeout, c.RetryTimeout)
	assert.Equal(t, DefaultIdleTimeout, c.IdleTimeout)
	assert.Equal(t, DefaultMaxConnLifetime, c.MaxConnLifetime)
	assert.Equal(t, DefaultForbidCount, c.ForbidCount)
	assert.Equal(t, DefaultDialTimeout, c.DialTimeout)
	assert.Equal(t, DefaultCompressThreshold, c.CompressThreshold)
	assert.IsType(t, &net.Dialer{}, c.Dialer)
	assert.Zero(t, c.HealthCheckInterval)
}

func TestConfig_NegativeDisables(t *testing.T) {
	c := Config{
		MaxRetries:        -1,
		IdleTimeout:       -1,
		MaxConnLifetime:   -1,
		CompressThreshold: -1,
	}.withDefaults()

	assert.Equal(t, 0, c.MaxRetries)
	assert.Negative(t, c.IdleTimeout)
	assert.Negative(t, c.MaxConnLifetime)
	assert.Negative(t, c.CompressThreshold)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"negative size", Config{MaxSize: -1}, true},
		{"node without addr", Config{Nodes: []NodeConfig{{Network: "tcp"}}}, true},
		{"udp node", Config{Nodes: []NodeConfig{{Network: "udp", Addr: "a:1"}}}, true},
		{"unix node", Config{Nodes: []NodeConfig{{Network: "unix", Addr: "/tmp/s"}}}, false},
		{"tcp6 node", Config{Nodes: []NodeConfig{{Network: "tcp6", Addr: "[::1]:1"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.withDefaults().validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Nodes(t *testing.T) {
	c := Config{
		Nodes: []NodeConfig{
			{Addr: "a:1"},
			{Addr: "b:1", User: "other", Password: "pw", ForbidCount: 2, DialTimeout: time.Second},
			{Network: "unix", Addr: "/run/cache.sock"},
		},
		User:     "app",
		Password: "secret",
	}.withDefaults()

	nodes := c.nodes()
	require.Len(t, nodes, 3)

	assert.Equal(t, NodeConfig{
		Network:     "tcp",
		Addr:        "a:1",
		User:        "app",
		Password:    "secret",
		ForbidCount: DefaultForbidCount,
		DialTimeout: DefaultDialTimeout,
	}, nodes[0])

	assert.Equal(t, "other", nodes[1].User)
	assert.Equal(t, "pw", nodes[1].Password)
	assert.Equal(t, 2, nodes[1].ForbidCount)
	assert.Equal(t, time.Second, nodes[1].DialTimeout)

	assert.Equal(t, "unix", nodes[2].Network)

	// The config is not modified
	assert.Empty(t, c.Nodes[0].Network)
}

func TestConfig_SingleAddr(t *testing.T) {
	nodes := Config{Addr: "cache:11211"}.withDefaults().nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "cache:11211", nodes[0].Addr)
	assert.Equal(t, "tcp", nodes[0].Network)
}
