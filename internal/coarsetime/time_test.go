package coarsetime

import (
	"testing"
	"time"
)

// BenchmarkTimeNow/time-8         	35926340	         32.82 ns/op	       0 B/op	       0 allocs/op
// BenchmarkTimeNow/coarsetime-8   	609668066	         1.950 ns/op	       0 B/op	       0 allocs/op
func BenchmarkTimeNow(b *testing.B) {
	var t time.Time

	b.Run("time", func(b *testing.B) {
		for b.Loop() {
			t = time.Now()
		}
	})

	b.Run("coarsetime", func(b *testing.B) {
		for b.Loop() {
			t = Now()
		}
	})

	_ = t
}

func TestNow(t *testing.T) {
	before := time.Now()
	time.Sleep(2 * tick)

	got := Now()
	if got.Before(before) {
		t.Fatalf("coarse time %v is older than %v", got, before)
	}
	if d := time.Since(got); d > 2*tick {
		t.Fatalf("coarse time lags by %v", d)
	}
	if Since(before) <= 0 {
		t.Fatalf("Since(%v) is not positive", before)
	}
}
