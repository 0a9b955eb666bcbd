package bincache_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/pior/bincache"
)

func Example() {
	client, err := bincache.NewClient(bincache.Config{
		Addr: "localhost:11211",
	})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()

	err = client.Set(ctx, bincache.Item{
		Key:   "user:42",
		Value: map[string]any{"name": "Ada", "roles": []any{"admin"}},
		TTL:   time.Hour,
	})
	if err != nil {
		log.Printf("Set failed: %v", err)
		return
	}

	item, err := client.Get(ctx, "user:42")
	if err != nil {
		log.Printf("Get failed: %v", err)
		return
	}
	if item.Found {
		user := item.Value.(map[string]any)
		fmt.Println(user["name"])
	}
}

func Example_cluster() {
	client, err := bincache.NewClient(bincache.Config{
		Nodes: []bincache.NodeConfig{
			{Addr: "10.0.0.1:11211"},
			{Addr: "10.0.0.2:11211"},
			{Network: "unix", Addr: "/run/memcached.sock", User: "local", Password: "secret"},
		},
		User:              "app",
		Password:          "secret",
		MaxSize:           50,
		NewCircuitBreaker: bincache.NewCircuitBreakerConfig(1, time.Minute, 10*time.Second),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	for _, n := range client.NodeStats() {
		fmt.Printf("%s: credits=%d breaker=%s\n", n.Addr, n.Credits, n.CircuitBreakerState)
	}
}

func ExampleNewPuddlePool() {
	client, err := bincache.NewClient(bincache.Config{
		Addr:                "localhost:11211",
		Pool:                bincache.NewPuddlePool,
		HealthCheckInterval: 5 * time.Second,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()
}

func ExampleClient_RegisterMetrics() {
	client, err := bincache.NewClient(bincache.Config{Addr: "localhost:11211"})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	set := metrics.NewSet()
	client.RegisterMetrics(set)

	_, _ = client.Get(context.Background(), "key")

	set.WritePrometheus(os.Stdout)
}
