package fiberrt

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawnLocalOrder(t *testing.T) {
	r := require.New(t)
	_, s := newInlineRuntime(t)

	var order []int
	runInline(t, s, func(ctx context.Context) {
		for i := 1; i <= 5; i++ {
			s.SpawnLocal(ctx, func(context.Context) { order = append(order, i) })
		}
		order = append(order, 0)
	})

	r.Equal([]int{0, 1, 2, 3, 4, 5}, order)
}

func TestSpawnLocalNested(t *testing.T) {
	r := require.New(t)
	_, s := newInlineRuntime(t)

	n := 0
	var spawn func(depth int) Task
	spawn = func(depth int) Task {
		return func(ctx context.Context) {
			n++
			if depth == 0 {
				return
			}
			for i := 0; i < 3; i++ {
				s.SpawnLocal(ctx, spawn(depth-1))
			}
		}
	}
	runInline(t, s, spawn(4))

	r.Equal(1+3+9+27+81, n)
}

func TestSpawnLocalOffFiber(t *testing.T) {
	r := require.New(t)
	_, s := newInlineRuntime(t)

	r.PanicsWithError("fiberrt: Scheduler.SpawnLocal: called outside a fiber", func() {
		s.SpawnLocal(context.Background(), func(context.Context) {})
	})
}

func TestSpawnRemoteFIFO(t *testing.T) {
	r := require.New(t)
	_, s := newInlineRuntime(t)

	var order []int
	for i := 0; i < 10; i++ {
		r.NoError(s.SpawnRemote(func(context.Context) { order = append(order, i) }))
	}
	s.RunUntilIdle()

	r.Equal([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestSpawnRemoteFromManyGoroutines(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t, WithMaxSchedulers(1))
	s := rt.MustScheduler(0)

	const senders, each = 8, 250
	var ran atomic.Int64
	done := make(chan struct{})

	for g := 0; g < senders; g++ {
		go func() {
			for i := 0; i < each; i++ {
				_ = s.SpawnRemote(func(context.Context) {
					if ran.Add(1) == senders*each {
						close(done)
					}
				})
			}
		}()
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		r.FailNow("remote spawns did not all run", "ran %d", ran.Load())
	}
}

func TestYield(t *testing.T) {
	r := require.New(t)
	_, s := newInlineRuntime(t)

	var trace []string
	runInline(t, s, func(ctx context.Context) {
		for _, name := range []string{"a", "b"} {
			s.SpawnLocal(ctx, func(ctx context.Context) {
				for i := 0; i < 3; i++ {
					trace = append(trace, name)
					Yield(ctx)
				}
			})
		}
	})

	r.Equal([]string{"a", "b", "a", "b", "a", "b"}, trace)
}

func TestSleep(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t, WithMaxSchedulers(1))

	var fired bool
	var elapsed time.Duration
	runOn(t, rt.MustScheduler(0), func(ctx context.Context) {
		start := time.Now()
		fired = Sleep(ctx, 20*time.Millisecond)
		elapsed = time.Since(start)
	})

	r.True(fired)
	r.GreaterOrEqual(elapsed, 20*time.Millisecond)
}

func TestSleepOrder(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t, WithMaxSchedulers(1))
	s := rt.MustScheduler(0)

	var order []int
	runOn(t, s, func(ctx context.Context) {
		var wg WaitGroup
		for _, ms := range []int{30, 10, 20} {
			wg.Add(1)
			s.SpawnLocal(ctx, func(ctx context.Context) {
				defer wg.Done()
				Sleep(ctx, time.Duration(ms)*time.Millisecond)
				order = append(order, ms)
			})
		}
		wg.Wait(ctx)
	})

	r.Equal([]int{10, 20, 30}, order)
}

func TestSleepCutShortByExit(t *testing.T) {
	r := require.New(t)
	rt := New(WithMaxSchedulers(1))
	r.NoError(rt.Init())
	s := rt.MustScheduler(0)

	parked := make(chan struct{})
	var result atomic.Int32
	r.NoError(s.SpawnRemote(func(ctx context.Context) {
		close(parked)
		if Sleep(ctx, time.Hour) {
			result.Store(1)
		} else {
			result.Store(2)
		}
	}))

	<-parked
	r.NoError(rt.Exit())
	r.Equal(int32(2), result.Load())
}

func TestSpawnRemoteAfterStop(t *testing.T) {
	r := require.New(t)
	rt := New(WithMaxSchedulers(1))
	r.NoError(rt.Init())
	s := rt.MustScheduler(0)

	r.NoError(rt.Exit())
	r.ErrorIs(s.SpawnRemote(func(context.Context) {}), ErrSchedulerStopped)
	r.ErrorIs(s.RunAndWait(func(context.Context) {}), ErrSchedulerStopped)
}

func TestDrainRunsQueuedWork(t *testing.T) {
	r := require.New(t)
	rt := New(WithMaxSchedulers(1))
	r.NoError(rt.Init())
	s := rt.MustScheduler(0)

	var ran atomic.Int64
	block := make(chan struct{})
	r.NoError(s.SpawnRemote(func(ctx context.Context) {
		<-block
		for i := 0; i < 10; i++ {
			s.SpawnLocal(ctx, func(ctx context.Context) {
				Yield(ctx)
				ran.Add(1)
			})
		}
	}))

	s.RequestStop()
	close(block)
	r.NoError(rt.Exit())

	r.Equal(int64(10), ran.Load())
	r.Equal(StateStopped, s.State())
}

func TestRequestStopIdempotent(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t, WithCPUs(2), WithMaxSchedulers(2))
	s := rt.MustScheduler(1)

	s.RequestStop()
	s.RequestStop()
	s.join()

	r.Equal(StateStopped, s.State())
	s.RequestStop()
}

func TestSchedulerStates(t *testing.T) {
	r := require.New(t)

	rt := New(WithMaxSchedulers(1), WithInlinePrimary(true))
	r.NoError(rt.Init())
	s := rt.MustScheduler(0)
	r.Equal(StateCreated, s.State())

	s.RunUntilIdle()
	r.Equal(StateRunning, s.State())

	r.NoError(rt.Exit())
	r.Equal(StateStopped, s.State())

	rt = New(WithMaxSchedulers(1))
	r.NoError(rt.Init())
	s = rt.MustScheduler(0)
	r.Equal(StateRunning, s.State())
	r.NoError(rt.Exit())
	r.Equal(StateStopped, s.State())
}

func TestStateString(t *testing.T) {
	r := require.New(t)

	r.Equal("Created", StateCreated.String())
	r.Equal("StopRequested", StateStopRequested.String())
	r.Equal("Stopped", StateStopped.String())
	r.Equal("Unknown", State(99).String())
}

func TestRunForeverTwice(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t, WithMaxSchedulers(1))

	r.PanicsWithError("fiberrt: Scheduler.RunForever: loop already running on another goroutine", func() {
		rt.MustScheduler(0).RunForever()
	})
}

func TestContextHelpers(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t, WithCPUs(2), WithMaxSchedulers(2))
	s := rt.MustScheduler(1)

	var got *Scheduler
	var ok, down bool
	runOn(t, s, func(ctx context.Context) {
		got, ok = SchedulerFromContext(ctx)
		down = ShuttingDown(ctx)
	})

	r.True(ok)
	r.Same(s, got)
	r.False(down)

	_, ok = SchedulerFromContext(context.Background())
	r.False(ok)
	r.False(ShuttingDown(context.Background()))
	r.Panics(func() { CurrentScheduler(context.Background()) })
}
