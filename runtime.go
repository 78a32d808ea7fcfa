package fiberrt

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Runtime owns the scheduler pool and sequences its lifecycle:
// Init builds and starts every scheduler, Quiesce pauses all but the
// primary, Exit stops everything and releases kernel resources.
//
// Init, Quiesce and Exit must not run concurrently with each other;
// a mutex only protects against accidental overlap. Everything else
// is safe from any goroutine once Init has returned.
type Runtime struct {
	cfg     Config
	log     *zap.Logger
	reg     prometheus.Registerer
	metrics *Metrics

	mu          sync.Mutex
	initialized bool
	exited      bool

	registry     atomic.Pointer[Registry]
	shuttingDown atomic.Bool
}

// New returns an uninitialized runtime.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		cfg: DefaultConfig(),
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Init creates min(CPUs, MaxSchedulers) schedulers. Each scheduler
// except an inline primary gets its own thread, and Init waits for
// that thread's loop to run before building the next one, so every
// scheduler accepts remote spawns by the time Init returns.
//
// A failure to create a reactor, a completion engine or a thread is
// fatal to startup: whatever was built is torn down and the error is
// returned.
func (rt *Runtime) Init() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.initialized {
		return ErrAlreadyInitialized
	}
	if err := rt.cfg.Validate(); err != nil {
		return err
	}

	m, err := newMetrics(rt.reg)
	if err != nil {
		return err
	}
	rt.metrics = m

	n := rt.cfg.NumSchedulers()
	rt.log.Info("starting schedulers",
		zap.Int("schedulers", n),
		zap.Bool("inline_primary", rt.cfg.InlinePrimary),
		zap.Int("max_in_flight", rt.cfg.MaxInFlight),
		zap.String("engine", rt.cfg.Engine))

	scheds := make([]*Scheduler, 0, n)
	for i := 0; i < n; i++ {
		s, err := newScheduler(rt, i)
		if err != nil {
			err = errors.Wrapf(err, "fiberrt: create scheduler %d", i)
			return multierr.Append(err, teardown(scheds))
		}
		scheds = append(scheds, s)

		if i == 0 && rt.cfg.InlinePrimary {
			s.log.Debug("scheduler hosted inline", zap.Stringer("engine", s.bridge.Engine()))
			continue
		}

		s.start()
		s.log.Debug("scheduler running", zap.Stringer("engine", s.bridge.Engine()))
	}

	rt.registry.Store(&Registry{scheds: scheds})
	rt.initialized = true

	rt.log.Info("runtime ready")
	return nil
}

// teardown stops and releases schedulers built by a failed Init.
func teardown(scheds []*Scheduler) error {
	var err error
	for _, s := range scheds {
		s.RequestStop()
		s.join()
		err = multierr.Append(err, s.close())
	}
	return err
}

// Quiesce stops and joins every scheduler except index 0 without
// releasing their resources, leaving the primary scheduler usable.
// Calling it again is harmless.
func (rt *Runtime) Quiesce() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	reg := rt.registry.Load()
	if reg == nil || rt.exited {
		return
	}

	rt.log.Info("quiescing background schedulers")

	background := reg.scheds[1:]
	for _, s := range background {
		s.RequestStop()
	}
	for _, s := range background {
		s.join()
	}

	rt.log.Info("background schedulers stopped", zap.Int("schedulers", len(background)))
}

// Exit raises the shutting-down flag, stops every scheduler, waits for
// each to drain and then releases their reactors and completion
// engines. With an inline primary, Exit drains it on the calling
// goroutine, which must not be inside RunLoop at the time.
//
// Exit is idempotent and returns the errors hit while releasing
// resources.
func (rt *Runtime) Exit() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.initialized || rt.exited {
		return nil
	}
	rt.exited = true
	rt.shuttingDown.Store(true)

	reg := rt.registry.Load()
	rt.log.Info("stopping all schedulers", zap.Int("schedulers", reg.Len()))

	for _, s := range reg.scheds {
		s.RequestStop()
	}
	for _, s := range reg.scheds {
		s.join()
	}

	var err error
	for _, s := range reg.scheds {
		err = multierr.Append(err, s.close())
	}

	if err != nil {
		rt.log.Error("runtime exited with errors", zap.Error(err))
	} else {
		rt.log.Info("runtime exited")
	}
	return err
}

// Registry returns the scheduler registry, or nil before Init.
func (rt *Runtime) Registry() *Registry {
	return rt.registry.Load()
}

// NumSchedulers returns the number of schedulers, zero before Init.
func (rt *Runtime) NumSchedulers() int {
	if reg := rt.registry.Load(); reg != nil {
		return reg.Len()
	}
	return 0
}

// Scheduler returns scheduler i. An index outside the registry yields
// a *RangeError; calling before Init yields ErrNotInitialized.
func (rt *Runtime) Scheduler(i int) (*Scheduler, error) {
	reg := rt.registry.Load()
	if reg == nil {
		return nil, ErrNotInitialized
	}
	return reg.At(i)
}

// MustScheduler is like Scheduler but panics on error.
func (rt *Runtime) MustScheduler(i int) *Scheduler {
	s, err := rt.Scheduler(i)
	if err != nil {
		panic(err)
	}
	return s
}

// SpawnInAll spawns task remotely on every scheduler. There is no
// ordering between schedulers and no aggregation of results; callers
// needing a barrier supply their own.
func (rt *Runtime) SpawnInAll(task Task) error {
	reg := rt.registry.Load()
	if reg == nil {
		return ErrNotInitialized
	}

	var err error
	for _, s := range reg.scheds {
		err = multierr.Append(err, s.SpawnRemote(task))
	}
	return err
}

// ShuttingDown reports whether Exit or RequestShutdown has been
// called.
func (rt *Runtime) ShuttingDown() bool {
	return rt.shuttingDown.Load()
}

// RequestShutdown raises the shutting-down flag for fibers to observe
// and, with an inline primary, makes RunLoop return. Signal handlers
// call it; Exit still has to run afterwards.
func (rt *Runtime) RequestShutdown() {
	rt.shuttingDown.Store(true)
	if rt.cfg.InlinePrimary {
		if reg := rt.registry.Load(); reg != nil {
			reg.scheds[0].RequestStop()
		}
	}
}

// RunLoop drives the inline primary scheduler until RequestShutdown
// or Exit's stop request.
func (rt *Runtime) RunLoop() {
	rt.inlinePrimary("Runtime.RunLoop").RunForever()
}

// RunUntilIdle drives the inline primary scheduler until none of its
// fibers is ready.
func (rt *Runtime) RunUntilIdle() {
	rt.inlinePrimary("Runtime.RunUntilIdle").RunUntilIdle()
}

func (rt *Runtime) inlinePrimary(op string) *Scheduler {
	reg := rt.registry.Load()
	if reg == nil {
		violate(op, "runtime not initialized")
	}
	s := reg.scheds[0]
	if s.threaded {
		violate(op, "primary scheduler runs on its own thread")
	}
	return s
}

// Config returns the configuration the runtime was built with.
func (rt *Runtime) Config() Config {
	return rt.cfg
}
