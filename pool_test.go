package bincache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/bincache/internal/testutils"
)

// fakeConnector builds connections over mock transports.
type fakeConnector struct {
	lifetime time.Duration

	mu    sync.Mutex
	mocks []*testutils.ConnectionMock
	err   error
	gate  chan struct{} // if set, connect blocks until it is closed or receives

	calls atomic.Int32
}

func (f *fakeConnector) connect(ctx context.Context) (*Connection, error) {
	f.calls.Add(1)

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	mock := testutils.NewConnectionMock()
	f.mocks = append(f.mocks, mock)
	return newConnection(mock, "mock", f.lifetime), nil
}

func (f *fakeConnector) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func newTestNodePool(t *testing.T, f *fakeConnector, config Config) *nodePool {
	t.Helper()
	p, err := NewNodePool(f.connect, config)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p.(*nodePool)
}

// waiting returns the number of callers blocked in Acquire.
func waiting(p *nodePool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

func acquireAsync(p *nodePool, ctx context.Context) <-chan acquireResult {
	ch := make(chan acquireResult, 1)
	go func() {
		res, err := p.Acquire(ctx)
		if err != nil {
			ch <- acquireResult{err: err}
			return
		}
		ch <- acquireResult{res: res.(*nodeResource)}
	}()
	return ch
}

func awaitAcquire(t *testing.T, ch <-chan acquireResult) acquireResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Acquire")
		return acquireResult{}
	}
}

func TestNodePool_AcquireRelease(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 2})

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Value())
	assert.False(t, res.Value().IsClosed())

	stats := p.Stats()
	assert.Equal(t, int32(1), stats.TotalConns)
	assert.Equal(t, int32(1), stats.ActiveConns)
	assert.Equal(t, uint64(1), stats.CreatedConns)

	res.Release()
	assert.Equal(t, int32(1), p.Stats().IdleConns)

	again, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, res.Value(), again.Value())
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestNodePool_IdleIsLIFO(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 3})

	var resources []Resource
	for range 3 {
		res, err := p.Acquire(context.Background())
		require.NoError(t, err)
		resources = append(resources, res)
	}
	for _, res := range resources {
		res.Release()
	}

	for i := 2; i >= 0; i-- {
		res, err := p.Acquire(context.Background())
		require.NoError(t, err)
		assert.Same(t, resources[i].Value(), res.Value())
	}
}

func TestNodePool_WaitsAtMaxSize(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 1})

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ch := acquireAsync(p, context.Background())
	require.Eventually(t, func() bool { return waiting(p) == 1 }, time.Second, time.Millisecond)

	res.Release()

	r := awaitAcquire(t, ch)
	require.NoError(t, r.err)
	assert.Same(t, res.Value(), r.res.Value())
	assert.Equal(t, int32(1), f.calls.Load())
	// The first Acquire also waited, for the connection being established
	assert.Equal(t, uint64(2), p.Stats().AcquireWaitCount)
}

func TestNodePool_WaitersAreLIFO(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 1})

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)

	first := acquireAsync(p, context.Background())
	require.Eventually(t, func() bool { return waiting(p) == 1 }, time.Second, time.Millisecond)
	second := acquireAsync(p, context.Background())
	require.Eventually(t, func() bool { return waiting(p) == 2 }, time.Second, time.Millisecond)

	res.Release()
	r := awaitAcquire(t, second)
	require.NoError(t, r.err)

	select {
	case <-first:
		t.Fatal("oldest waiter served first")
	default:
	}

	r.res.Release()
	r = awaitAcquire(t, first)
	require.NoError(t, r.err)
}

func TestNodePool_AcquireContextCanceled(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 1})

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, waiting(p))
	assert.Equal(t, uint64(1), p.Stats().AcquireErrors)

	// The connection still goes back to the pool
	res.Release()
	assert.Equal(t, int32(1), p.Stats().IdleConns)
}

func TestNodePool_EstablishFailureFailsWaiters(t *testing.T) {
	boom := errors.New("no route to host")
	f := &fakeConnector{gate: make(chan struct{})}
	f.setErr(boom)
	p := newTestNodePool(t, f, Config{MaxSize: 1})

	first := acquireAsync(p, context.Background())
	require.Eventually(t, func() bool { return waiting(p) == 1 }, time.Second, time.Millisecond)
	second := acquireAsync(p, context.Background())
	require.Eventually(t, func() bool { return waiting(p) == 2 }, time.Second, time.Millisecond)

	// One establishment for the single slot
	assert.Equal(t, int32(1), f.calls.Load())
	close(f.gate)

	assert.ErrorIs(t, awaitAcquire(t, first).err, boom)
	assert.ErrorIs(t, awaitAcquire(t, second).err, boom)

	// The slot is free again
	f.setErr(nil)
	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	res.Release()
}

func TestNodePool_DestroyFreesSlot(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 1})

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ch := acquireAsync(p, context.Background())
	require.Eventually(t, func() bool { return waiting(p) == 1 }, time.Second, time.Millisecond)

	res.Destroy()

	r := awaitAcquire(t, ch)
	require.NoError(t, r.err)
	assert.NotSame(t, res.Value(), r.res.Value())
	assert.Equal(t, int32(2), f.calls.Load())

	require.Eventually(t, func() bool { return p.Stats().DestroyedConns == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), p.Stats().TotalConns)
}

func TestNodePool_RemoteCloseRemovesIdle(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 2})

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	res.Release()
	require.Equal(t, int32(1), p.Stats().IdleConns)

	f.mu.Lock()
	_ = f.mocks[0].Close()
	f.mu.Unlock()

	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.IdleConns == 0 && s.TotalConns == 0
	}, time.Second, time.Millisecond)

	res, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Value().IsClosed())
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestNodePool_IdleTimeout(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 2, IdleTimeout: 50 * time.Millisecond})

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn := res.Value()
	res.Release()

	require.Eventually(t, conn.IsClosed, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return p.Stats().TotalConns == 0 }, time.Second, time.Millisecond)
}

func TestNodePool_IdleTimeoutRearms(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 2, IdleTimeout: 200 * time.Millisecond})

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	connA, connB := a.Value(), b.Value()

	a.Release()
	time.Sleep(120 * time.Millisecond)
	b.Release()

	require.Eventually(t, connA.IsClosed, time.Second, 5*time.Millisecond)
	assert.False(t, connB.IsClosed(), "the later deadline must not fire with the first")

	require.Eventually(t, connB.IsClosed, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return p.Stats().TotalConns == 0 }, time.Second, time.Millisecond)
}

func TestNodePool_IdleTimerEarliestDeadline(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 2, IdleTimeout: 300 * time.Millisecond})

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	connA, connB := a.Value(), b.Value()

	// A health check sweep holds a while b is used later
	a.Release()
	swept := p.AcquireAllIdle()
	require.Len(t, swept, 1)

	time.Sleep(200 * time.Millisecond)
	b.Release()
	swept[0].ReleaseUnused()

	// a keeps its original deadline, ahead of b's
	require.Eventually(t, connA.IsClosed, time.Second, 5*time.Millisecond)
	assert.False(t, connB.IsClosed())

	require.Eventually(t, connB.IsClosed, time.Second, 5*time.Millisecond)
}

func TestNodePool_IdleTimeoutDisabled(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 2, IdleTimeout: -1})

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn := res.Value()
	res.Release()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, conn.IsClosed())
	assert.Nil(t, p.idleTimer)
}

func TestNodePool_ExpiredConnectionClosedOnRelease(t *testing.T) {
	f := &fakeConnector{lifetime: time.Nanosecond}
	p := newTestNodePool(t, f, Config{MaxSize: 1})

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	time.Sleep(120 * time.Millisecond) // past one coarse clock tick

	res.Release()
	assert.True(t, res.Value().IsClosed())
	assert.Equal(t, int32(0), p.Stats().IdleConns)

	res, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
	res.Destroy()
}

func TestNodePool_Close(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 2})

	idle, err := p.Acquire(context.Background())
	require.NoError(t, err)
	busy, err := p.Acquire(context.Background())
	require.NoError(t, err)
	idle.Release()

	p.Close()

	assert.True(t, idle.Value().IsClosed())
	assert.False(t, busy.Value().IsClosed())

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	// Released after close: closed, not pooled
	busy.Release()
	assert.True(t, busy.Value().IsClosed())

	// Closing twice is harmless
	p.Close()
}

func TestNodePool_CloseFailsWaiters(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 1})

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ch := acquireAsync(p, context.Background())
	require.Eventually(t, func() bool { return waiting(p) == 1 }, time.Second, time.Millisecond)

	p.Close()
	assert.ErrorIs(t, awaitAcquire(t, ch).err, ErrPoolClosed)
	res.Release()
}

func TestNodePool_AcquireAllIdle(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 3})

	var resources []Resource
	for range 3 {
		res, err := p.Acquire(context.Background())
		require.NoError(t, err)
		resources = append(resources, res)
	}
	resources[0].Release()
	resources[1].Release()

	all := p.AcquireAllIdle()
	require.Len(t, all, 2)
	assert.Equal(t, int32(0), p.Stats().IdleConns)

	for _, res := range all {
		res.ReleaseUnused()
	}
	resources[2].Release()
	assert.Equal(t, int32(3), p.Stats().IdleConns)
}

func TestNodePool_ReleaseUnusedKeepsIdleTime(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 1, IdleTimeout: time.Hour})

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	res.Release()

	r := res.(*nodeResource)
	lastUsed := r.lastUsedTime

	all := p.AcquireAllIdle()
	require.Len(t, all, 1)
	all[0].ReleaseUnused()

	assert.Equal(t, lastUsed, r.lastUsedTime)
}

func TestNodePool_InvalidConfig(t *testing.T) {
	_, err := NewNodePool((&fakeConnector{}).connect, Config{MaxSize: -1})
	assert.Error(t, err)
}

func TestNodePool_Concurrent(t *testing.T) {
	f := &fakeConnector{}
	p := newTestNodePool(t, f, Config{MaxSize: 4})

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				res, err := p.Acquire(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				res.Release()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, f.calls.Load(), int32(4))
	assert.LessOrEqual(t, p.Stats().TotalConns, int32(4))
}

func TestPuddlePool(t *testing.T) {
	f := &fakeConnector{}
	p, err := NewPuddlePool(f.connect, Config{MaxSize: 2})
	require.NoError(t, err)
	defer p.Close()

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn := res.Value()
	res.Release()

	res, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, conn, res.Value())

	// A closed connection is dropped on release
	_ = conn.Close()
	res.Release()
	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.TotalConns == 0 && s.DestroyedConns == 1
	}, time.Second, time.Millisecond)

	p.Close()
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}
