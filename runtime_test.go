package fiberrt

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitSchedulerCount(t *testing.T) {
	for _, tc := range []struct {
		name string
		cpus int
		max  int
		want int
	}{
		{"one cpu", 1, 4, 1},
		{"two cpus", 2, 4, 2},
		{"four cpus", 4, 4, 4},
		{"capped", 8, 4, 4},
		{"lower cap", 8, 3, 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := require.New(t)
			rt := newTestRuntime(t, WithCPUs(tc.cpus), WithMaxSchedulers(tc.max))

			r.Equal(tc.want, rt.NumSchedulers())
			r.Equal(tc.want, rt.Registry().Len())

			for i, s := range rt.Registry().All() {
				r.Equal(i, s.Index())
				r.Equal(StateRunning, s.State())
				r.Same(rt, s.Runtime())
			}
		})
	}
}

func TestInitTwice(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t, WithMaxSchedulers(1))

	r.ErrorIs(rt.Init(), ErrAlreadyInitialized)
}

func TestInitInvalidConfig(t *testing.T) {
	r := require.New(t)

	r.Error(New(WithMaxSchedulers(0)).Init())
	r.Error(New(WithMaxInFlight(0)).Init())
}

func TestSchedulerLookup(t *testing.T) {
	r := require.New(t)

	rt := New(WithCPUs(2), WithMaxSchedulers(2))
	_, err := rt.Scheduler(0)
	r.ErrorIs(err, ErrNotInitialized)
	r.Zero(rt.NumSchedulers())
	r.Nil(rt.Registry())

	r.NoError(rt.Init())
	t.Cleanup(func() { r.NoError(rt.Exit()) })

	s, err := rt.Scheduler(1)
	r.NoError(err)
	r.Equal(1, s.Index())

	for _, i := range []int{-1, 2, 100} {
		_, err = rt.Scheduler(i)
		var rerr *RangeError
		r.ErrorAs(err, &rerr)
		r.Equal(i, rerr.Index)
		r.Equal(2, rerr.Len)
	}

	r.Panics(func() { rt.MustScheduler(2) })
}

func TestSpawnInAll(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t, WithCPUs(4), WithMaxSchedulers(4))

	counts := make([]atomic.Int64, rt.NumSchedulers())
	var wg sync.WaitGroup
	wg.Add(rt.NumSchedulers())

	r.NoError(rt.SpawnInAll(func(ctx context.Context) {
		defer wg.Done()
		counts[CurrentScheduler(ctx).Index()].Add(1)
	}))
	wg.Wait()

	for i := range counts {
		r.Equal(int64(1), counts[i].Load(), "scheduler %d", i)
	}
}

func TestSpawnInAllBeforeInit(t *testing.T) {
	r := require.New(t)

	r.ErrorIs(New().SpawnInAll(func(context.Context) {}), ErrNotInitialized)
}

func TestQuiesce(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t, WithCPUs(3), WithMaxSchedulers(3))

	rt.Quiesce()
	rt.Quiesce()

	primary := rt.MustScheduler(0)
	r.Equal(StateRunning, primary.State())
	for i := 1; i < rt.NumSchedulers(); i++ {
		s := rt.MustScheduler(i)
		r.Equal(StateStopped, s.State())
		r.ErrorIs(s.SpawnRemote(func(context.Context) {}), ErrSchedulerStopped)
	}

	ran := false
	runOn(t, primary, func(context.Context) { ran = true })
	r.True(ran)
}

func TestQuiesceBeforeInit(t *testing.T) {
	r := require.New(t)

	rt := New()
	r.NotPanics(rt.Quiesce)
	r.NoError(rt.Exit())
}

func TestExitIdempotent(t *testing.T) {
	r := require.New(t)

	rt := New(WithCPUs(2), WithMaxSchedulers(2))
	r.NoError(rt.Init())
	r.NoError(rt.Exit())
	r.NoError(rt.Exit())
	r.True(rt.ShuttingDown())

	rt.Quiesce()
}

func TestExitStopsCooperativeFibers(t *testing.T) {
	r := require.New(t)

	rt := New(WithCPUs(4), WithMaxSchedulers(4))
	r.NoError(rt.Init())

	var started, finished atomic.Int64
	r.NoError(rt.SpawnInAll(func(ctx context.Context) {
		started.Add(1)
		for !ShuttingDown(ctx) {
			Yield(ctx)
		}
		finished.Add(1)
	}))

	r.Eventually(func() bool { return started.Load() == int64(rt.NumSchedulers()) },
		5*time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- rt.Exit() }()

	select {
	case err := <-done:
		r.NoError(err)
	case <-time.After(10 * time.Second):
		r.FailNow("exit did not return")
	}

	r.Equal(started.Load(), finished.Load())
	for _, s := range rt.Registry().All() {
		r.Equal(StateStopped, s.State())
	}
}

func TestExitAbortsParkedFibers(t *testing.T) {
	r := require.New(t)

	core, logs := observer.New(zap.WarnLevel)
	rt := New(WithMaxSchedulers(1), WithLogger(zap.New(core)))
	r.NoError(rt.Init())
	s := rt.MustScheduler(0)

	var unwound, returned atomic.Int64
	runOn(t, s, func(ctx context.Context) {
		never, chained := NewBaton(s), NewBaton(s)
		var mux Mutex
		mux.Lock(ctx)

		s.SpawnLocal(ctx, func(ctx context.Context) {
			defer unwound.Add(1)
			defer chained.Post(1)
			never.Wait(ctx)
			returned.Add(1)
		})
		s.SpawnLocal(ctx, func(ctx context.Context) {
			defer unwound.Add(1)
			chained.Wait(ctx)
		})
		s.SpawnLocal(ctx, func(ctx context.Context) {
			defer unwound.Add(1)
			mux.Lock(ctx)
			returned.Add(1)
		})
	})

	r.NoError(rt.Exit())
	r.Eventually(func() bool { return unwound.Load() == 3 }, 5*time.Second, time.Millisecond)
	r.Zero(returned.Load())
	r.GreaterOrEqual(logs.FilterMessage("dropping parked fibers").Len(), 1)
	r.Equal(StateStopped, s.State())
}

func TestInlinePrimary(t *testing.T) {
	r := require.New(t)
	rt, s := newInlineRuntime(t)

	r.False(s.threaded)

	n := 0
	runInline(t, s, func(ctx context.Context) {
		for i := 0; i < 10; i++ {
			s.SpawnLocal(ctx, func(context.Context) { n++ })
		}
	})
	r.Equal(10, n)

	r.NoError(s.SpawnRemote(func(context.Context) { rt.RequestShutdown() }))
	rt.RunLoop()
	r.True(rt.ShuttingDown())
}

func TestInlinePrimaryMisuse(t *testing.T) {
	r := require.New(t)

	r.PanicsWithError("fiberrt: Runtime.RunLoop: runtime not initialized", func() {
		New().RunLoop()
	})

	rt := newTestRuntime(t, WithMaxSchedulers(1))
	r.PanicsWithError("fiberrt: Runtime.RunUntilIdle: primary scheduler runs on its own thread", rt.RunUntilIdle)
}

func TestInlinePrimaryWithBackground(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t, WithCPUs(3), WithMaxSchedulers(3), WithInlinePrimary(true))

	primary := rt.MustScheduler(0)
	r.Equal(StateCreated, primary.State())
	for i := 1; i < rt.NumSchedulers(); i++ {
		r.Equal(StateRunning, rt.MustScheduler(i).State())
	}

	var hops []int
	var spawnErr error
	r.NoError(primary.SpawnRemote(func(ctx context.Context) {
		defer rt.RequestShutdown()

		hops = append(hops, CurrentScheduler(ctx).Index())
		b := NewBaton(primary)
		spawnErr = rt.MustScheduler(2).SpawnRemote(func(context.Context) {
			_ = b.PostRemote(2)
		})
		if spawnErr != nil {
			return
		}
		hops = append(hops, int(b.Wait(ctx)))
	}))
	rt.RunLoop()

	r.NoError(spawnErr)
	r.Equal([]int{0, 2}, hops)
}
