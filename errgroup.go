package fiberrt

import "context"

// ErrGroup runs a group of fibers on one scheduler and collects the
// first error any of them returns.
type ErrGroup interface {
	// Go spawns a fiber with the group's context. ctx must belong to
	// the calling fiber, which runs on the group's scheduler.
	Go(context.Context, func(context.Context) error)
	// GoWithContext spawns a fiber deriving from ctx, which must
	// belong to a fiber of the group's scheduler.
	GoWithContext(context.Context, func(context.Context) error)
	// Wait parks until every fiber of the group has returned and
	// returns the first error encountered.
	Wait(context.Context) error
}

// errGroup implements ErrGroup.
type errGroup struct {
	sched  *Scheduler      // Scheduler hosting the group's fibers
	ctx    context.Context // Context shared by all fibers of the group
	cancel func(error)     // Cancels ctx with the first error
	wg     WaitGroup       // Tracks when all fibers are done
	err    error           // The first error encountered
}

// NewGroup returns an ErrGroup whose fibers run on the scheduler of
// the fiber owning ctx. The group context is cancelled with the first
// error returned by one of its fibers.
func NewGroup(ctx context.Context) ErrGroup {
	f := runningFiber(ctx, "NewGroup")
	gctx, cancel := context.WithCancelCause(ctx)
	return &errGroup{sched: f.sched, ctx: gctx, cancel: cancel}
}

func (g *errGroup) Go(ctx context.Context, fn func(context.Context) error) {
	if f := runningFiber(ctx, "ErrGroup.Go"); f.sched != g.sched {
		violate("ErrGroup.Go", "ctx belongs to another scheduler")
	}
	g.goctx(g.ctx, fn)
}

func (g *errGroup) GoWithContext(ctx context.Context, fn func(context.Context) error) {
	if f := runningFiber(ctx, "ErrGroup.GoWithContext"); f.sched != g.sched {
		violate("ErrGroup.GoWithContext", "ctx belongs to another scheduler")
	}
	g.goctx(ctx, fn)
}

func (g *errGroup) goctx(ctx context.Context, fn func(context.Context) error) {
	g.wg.Add(1)
	g.sched.spawnWith(ctx, func(ctx context.Context) {
		defer g.wg.Done()
		if err := fn(ctx); err != nil && g.err == nil {
			g.err = err
			g.cancel(g.err)
		}
	})
	g.sched.metrics.spawnedLocal.Inc()
}

func (g *errGroup) Wait(ctx context.Context) error {
	g.wg.Wait(ctx)
	g.cancel(g.err)
	return g.err
}
