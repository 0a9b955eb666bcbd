// Package coarsetime is a clock with 50ms resolution, refreshed by a
// background goroutine. Reading it costs an atomic load instead of a
// time.Now() call; the connection pool uses it to stamp idle connections.
package coarsetime

import (
	"sync/atomic"
	"time"
)

const tick = 50 * time.Millisecond

var now atomic.Value

func init() {
	now.Store(time.Now())

	tick := time.NewTicker(tick)
	go func() {
		for range tick.C {
			now.Store(time.Now())
		}
	}()
}

// Now returns the current time, at most one tick old.
func Now() time.Time {
	return now.Load().(time.Time)
}

// Since returns the time elapsed since t, by the coarse clock.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}
