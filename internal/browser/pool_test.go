package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPool(launcher *fakeLauncher, idle time.Duration) *Pool {
	return NewPool(launcher, PoolOptions{IdleTimeout: idle, LaunchTimeout: 5 * time.Second})
}

func TestAcquirePage_ConcurrentAcquiresShareOneLaunch(t *testing.T) {
	launcher := &fakeLauncher{gate: make(chan struct{})}
	pool := newTestPool(launcher, time.Minute)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	const n = 12
	leases := make([]*Lease, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			leases[i], errs[i] = pool.AcquirePage(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return pool.State() == StateLaunching }, time.Second, time.Millisecond)
	close(launcher.gate)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, leases[i])
	}
	require.Equal(t, int32(1), launcher.launches.Load())
	require.Equal(t, 1, pool.Launches())
	require.Equal(t, n, pool.Leases())
	require.Equal(t, int32(n), launcher.engine(0).pages.Load())
	require.False(t, pool.idleArmed())
}

func TestReleasePage_TearsDownOnlyAfterFullIdle(t *testing.T) {
	launcher := &fakeLauncher{}
	idle := 150 * time.Millisecond
	pool := newTestPool(launcher, idle)

	lease, err := pool.AcquirePage(context.Background())
	require.NoError(t, err)
	require.False(t, pool.idleArmed())

	releasedAt := time.Now()
	require.NoError(t, pool.ReleasePage(lease))
	require.True(t, pool.idleArmed())
	require.Equal(t, 0, pool.Leases())

	time.Sleep(idle / 2)
	engine := launcher.engine(0)
	require.False(t, engine.closed.Load())
	require.Equal(t, StateReady, pool.State())

	require.Eventually(t, func() bool { return pool.State() == StateAbsent }, 2*time.Second, 5*time.Millisecond)
	require.True(t, engine.closed.Load())
	closedAt := time.Unix(0, engine.closedAt.Load())
	require.GreaterOrEqual(t, closedAt.Sub(releasedAt), idle)
}

func TestAcquirePage_ReacquireCancelsIdleTeardown(t *testing.T) {
	launcher := &fakeLauncher{}
	idle := 120 * time.Millisecond
	pool := newTestPool(launcher, idle)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	first, err := pool.AcquirePage(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Release())

	time.Sleep(idle / 2)
	second, err := pool.AcquirePage(context.Background())
	require.NoError(t, err)
	require.False(t, pool.idleArmed())

	time.Sleep(idle * 2)
	require.Equal(t, StateReady, pool.State())
	require.False(t, launcher.engine(0).closed.Load())

	require.NoError(t, second.Release())
	require.Eventually(t, func() bool { return pool.State() == StateAbsent }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, pool.Launches())
}

func TestAcquirePage_WaitsForShutdownThenRelaunches(t *testing.T) {
	closing := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	launcher := &fakeLauncher{closeHook: func() {
		once.Do(func() {
			close(closing)
			<-unblock
		})
	}}
	pool := newTestPool(launcher, 30*time.Millisecond)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	lease, err := pool.AcquirePage(context.Background())
	require.NoError(t, err)
	require.NoError(t, lease.Release())

	<-closing
	require.Equal(t, StateShuttingDown, pool.State())

	acquired := make(chan *Lease, 1)
	go func() {
		l, err := pool.AcquirePage(context.Background())
		if err == nil {
			acquired <- l
		}
	}()

	select {
	case <-acquired:
		t.Fatal("lease handed out while engine was shutting down")
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	var next *Lease
	select {
	case next = <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not resume after shutdown")
	}
	require.Equal(t, 2, pool.Launches())
	require.NotEqual(t, lease.Generation(), next.Generation())
	require.NoError(t, next.Release())
}

func TestEngineCrashInvalidatesLeases(t *testing.T) {
	launcher := &fakeLauncher{}
	pool := newTestPool(launcher, time.Minute)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	lease, err := pool.AcquirePage(context.Background())
	require.NoError(t, err)

	launcher.engine(0).crash()
	require.Eventually(t, func() bool { return pool.State() == StateAbsent }, time.Second, time.Millisecond)
	require.Equal(t, 0, pool.Leases())
	require.False(t, pool.idleArmed())

	require.ErrorIs(t, lease.Goto("https://example.com", time.Second), ErrEngineGone)
	_, err = lease.InnerText("body")
	require.ErrorIs(t, err, ErrEngineGone)
	require.NoError(t, lease.Release())

	fresh, err := pool.AcquirePage(context.Background())
	require.NoError(t, err)
	require.NoError(t, fresh.Goto("https://example.com", time.Second))
	require.Equal(t, 2, pool.Launches())
	require.Equal(t, 1, pool.Leases())
}

func TestReleasePage_Idempotent(t *testing.T) {
	launcher := &fakeLauncher{}
	pool := newTestPool(launcher, time.Minute)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	a, err := pool.AcquirePage(context.Background())
	require.NoError(t, err)
	b, err := pool.AcquirePage(context.Background())
	require.NoError(t, err)

	require.NoError(t, pool.ReleasePage(a))
	require.NoError(t, pool.ReleasePage(a))
	require.Equal(t, 1, pool.Leases())
	require.False(t, pool.idleArmed())
	require.Error(t, a.Goto("https://example.com", time.Second))

	require.NoError(t, b.Release())
	require.Equal(t, 0, pool.Leases())
	require.True(t, pool.idleArmed())
	require.NoError(t, pool.ReleasePage(nil))
}

func TestAcquirePage_LaunchFailureReturnsToAbsent(t *testing.T) {
	launcher := &fakeLauncher{err: errors.New("chromium missing")}
	pool := newTestPool(launcher, time.Minute)

	_, err := pool.AcquirePage(context.Background())
	require.ErrorContains(t, err, "chromium missing")
	require.Equal(t, StateAbsent, pool.State())

	launcher.err = nil
	lease, err := pool.AcquirePage(context.Background())
	require.NoError(t, err)
	require.NoError(t, lease.Release())
	require.NoError(t, pool.Close(context.Background()))
}

func TestAcquirePage_ContextCancelledWhileLaunching(t *testing.T) {
	launcher := &fakeLauncher{gate: make(chan struct{})}
	pool := newTestPool(launcher, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pool.AcquirePage(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(launcher.gate)
	require.Eventually(t, func() bool { return pool.State() == StateReady }, time.Second, time.Millisecond)
	require.True(t, pool.idleArmed())
	require.NoError(t, pool.Close(context.Background()))
}

func TestPrewarmAndClose(t *testing.T) {
	launcher := &fakeLauncher{}
	pool := newTestPool(launcher, time.Minute)

	require.NoError(t, pool.Prewarm(context.Background()))
	require.Equal(t, StateReady, pool.State())
	require.True(t, pool.idleArmed())
	require.NoError(t, pool.Prewarm(context.Background()))
	require.Equal(t, 1, pool.Launches())

	require.NoError(t, pool.Close(context.Background()))
	require.Equal(t, StateAbsent, pool.State())
	require.True(t, launcher.engine(0).closed.Load())

	_, err := pool.AcquirePage(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
	require.ErrorIs(t, pool.Prewarm(context.Background()), ErrPoolClosed)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "absent", StateAbsent.String())
	require.Equal(t, "launching", StateLaunching.String())
	require.Equal(t, "ready", StateReady.String())
	require.Equal(t, "shutting_down", StateShuttingDown.String())
	require.Equal(t, "state(9)", State(9).String())
}
