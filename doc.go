// Package bincache is a client for cache servers speaking the memcached
// binary protocol, storing typed values rather than raw bytes.
//
// # Usage
//
//	client, err := bincache.NewClient(bincache.Config{
//	    Nodes: []bincache.NodeConfig{
//	        {Addr: "10.0.0.1:11211"},
//	        {Addr: "10.0.0.2:11211"},
//	        {Network: "unix", Addr: "/run/cache.sock"},
//	    },
//	    User:     "app",
//	    Password: "secret",
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Set(ctx, bincache.Item{
//	    Key:   "user:42",
//	    Value: map[string]any{"name": "Ada", "roles": []any{"admin"}},
//	    TTL:   time.Minute,
//	})
//
//	item, err := client.Get(ctx, "user:42")
//	if item.Found {
//	    user := item.Value.(map[string]any)
//	}
//
// # Values
//
// Strings and byte slices are stored raw, numbers as 8-byte doubles, booleans
// and nil as flags alone. Maps, slices and *bob.SparseArray values are
// encoded with package bob, which keeps shared references and cycles.
// Payloads over CompressThreshold bytes are stored deflated.
//
// # Connections
//
// Connections are pooled (see NewNodePool) and spread round-robin over the
// nodes. Keys are not sharded: a request may be served by any node.
// A node that fails to accept a connection is skipped for a while, and
// connection attempts are retried on the next node. Requests on a connection
// are pipelined and matched to responses by their opaque value.
//
// Logging goes through the dragonboat logger facade under the name
// "bincache".
package bincache
