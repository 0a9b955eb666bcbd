package bincache

import (
	"net"
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreakerConfig returns a Config.NewCircuitBreaker function.
//
// A node's breaker opens after at least 3 connection attempts with 60%
// failing. While open, connection attempts to that node fail immediately
// and the cluster moves on to the next node. After timeout, up to
// maxRequests attempts are let through to probe the node.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) *gobreaker.CircuitBreaker[net.Conn] {
	return func(addr string) *gobreaker.CircuitBreaker[net.Conn] {
		settings := gobreaker.Settings{
			Name:        addr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				plog.Warningf("%s: circuit breaker %s -> %s", name, from, to)
			},
		}
		return gobreaker.NewCircuitBreaker[net.Conn](settings)
	}
}
