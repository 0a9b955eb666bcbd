package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pior/bincache"
)

type operation string

const (
	opCacheHit  operation = "cache-hit"  // 1 set then gets of the same key
	opDynamic   operation = "dynamic"    // set then get of a new key
	opCacheMiss operation = "cache-miss" // gets of missing keys
	opObject    operation = "object"     // set then get of an object value
	opDelete    operation = "delete"     // set then delete
)

var allOperations = []operation{opCacheHit, opDynamic, opCacheMiss, opObject, opDelete}

type benchResult struct {
	operation operation
	duration  time.Duration
	timer     gometrics.Timer
	failures  int64
	mismatch  atomic.Bool
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmarks the servers",
	Long: `Runs each operation for --duration with --concurrency workers and prints
latency percentiles and throughput.`,
	RunE: runBench,
}

func init() {
	flags := benchCmd.Flags()
	flags.String("operations", "all", wrapString("Comma separated operations (cache-hit, dynamic, cache-miss, object, delete) or all"))
	flags.Duration("duration", 5*time.Second, wrapString("Duration of each benchmark"))
	flags.Int("concurrency", 4, wrapString("Number of concurrent workers"))
	flags.Int("value-size", 100, wrapString("Size in bytes of string values"))
	flags.Bool("metrics", false, wrapString("Print client metrics in Prometheus format at the end"))
}

func runBench(_ *cobra.Command, _ []string) error {
	ops, err := parseOperations(viper.GetString("operations"))
	if err != nil {
		return err
	}
	duration := viper.GetDuration("duration")
	concurrency := viper.GetInt("concurrency")
	value := strings.Repeat("x", viper.GetInt("value-size"))

	fmt.Printf("Servers: %s\n", viper.GetString("servers"))
	fmt.Printf("Duration: %v, concurrency: %d, value size: %d\n\n", duration, concurrency, len(value))

	// Fail fast when no server is reachable
	ctx, cancel := commandContext()
	_, err = client.Get(ctx, "bench:ping")
	cancel()
	if err != nil {
		return fmt.Errorf("servers unreachable: %w", err)
	}

	for _, op := range ops {
		result := runOperation(op, duration, concurrency, value)
		printResult(result)
	}

	if viper.GetBool("metrics") {
		fmt.Println()
		return writeMetrics()
	}
	return nil
}

func parseOperations(list string) ([]operation, error) {
	if list == "all" {
		return allOperations, nil
	}

	var ops []operation
	for _, name := range strings.Split(list, ",") {
		op := operation(strings.TrimSpace(name))
		found := false
		for _, known := range allOperations {
			if op == known {
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown operation %q", op)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func runOperation(op operation, duration time.Duration, concurrency int, value string) *benchResult {
	result := &benchResult{operation: op, timer: gometrics.NewTimer()}
	defer result.timer.Stop()

	ctx := context.Background()
	if op == opCacheHit {
		if err := client.Set(ctx, bincache.Item{Key: "bench:hit", Value: value}); err != nil {
			result.failures++
			return result
		}
	}

	start := time.Now()
	deadline := start.Add(duration)
	var failures atomic.Int64
	var wg sync.WaitGroup

	for w := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; time.Now().Before(deadline); i++ {
				if err := runStep(ctx, op, result, w, i, value); err != nil {
					failures.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	result.duration = time.Since(start)
	result.failures = failures.Load()
	return result
}

// runStep runs one iteration of op, timing every request.
func runStep(ctx context.Context, op operation, result *benchResult, worker, i int, value string) error {
	timed := func(f func() error) error {
		var err error
		result.timer.Time(func() { err = f() })
		return err
	}
	check := func(item bincache.Item, want any) {
		if !item.Found || fmt.Sprint(item.Value) != fmt.Sprint(want) {
			result.mismatch.Store(true)
		}
	}

	key := fmt.Sprintf("bench:%s:%d:%d", op, worker, i)

	switch op {
	case opCacheHit:
		return timed(func() error {
			item, err := client.Get(ctx, "bench:hit")
			if err == nil {
				check(item, value)
			}
			return err
		})

	case opCacheMiss:
		return timed(func() error {
			item, err := client.Get(ctx, key+":missing")
			if err == nil && item.Found {
				result.mismatch.Store(true)
			}
			return err
		})

	case opDynamic, opObject:
		var v any = value
		if op == opObject {
			v = map[string]any{"worker": float64(worker), "i": float64(i), "tags": []any{"a", "b"}}
		}
		if err := timed(func() error {
			return client.Set(ctx, bincache.Item{Key: key, Value: v, TTL: time.Minute})
		}); err != nil {
			return err
		}
		return timed(func() error {
			item, err := client.Get(ctx, key)
			if err == nil {
				check(item, v)
			}
			return err
		})

	case opDelete:
		if err := timed(func() error {
			return client.Set(ctx, bincache.Item{Key: key, Value: value, TTL: time.Minute})
		}); err != nil {
			return err
		}
		return timed(func() error { return client.Delete(ctx, key) })
	}
	return nil
}

func printResult(r *benchResult) {
	t := r.timer.Snapshot()
	ps := t.Percentiles([]float64{0.5, 0.9, 0.99})

	fmt.Printf("--- %s ---\n", r.operation)
	fmt.Printf("  requests:   %d (%d failed)\n", t.Count(), r.failures)
	if r.duration > 0 {
		fmt.Printf("  throughput: %.0f req/s\n", float64(t.Count())/r.duration.Seconds())
	}
	fmt.Printf("  latency:    mean %v, p50 %v, p90 %v, p99 %v, max %v\n",
		time.Duration(t.Mean()), time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(ps[2]), time.Duration(t.Max()))
	if r.mismatch.Load() {
		fmt.Println("  WARNING: unexpected values were read")
	}
}
