// Command bincache reads and writes typed values on cache servers speaking
// the memcached binary protocol, and benchmarks them.
//
//	bincache set user:1 '{"name":"Ada"}' --type json --ttl 1m
//	bincache get user:1
//	bincache bench --duration 10s --concurrency 8
//
// Flags can also be set with BINCACHE_* environment variables, optionally
// from a .env or .env.local file in the working directory.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
