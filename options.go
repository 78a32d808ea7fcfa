package fiberrt

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithConfig replaces the whole configuration. Options applied after
// it override individual fields.
func WithConfig(cfg Config) Option {
	return func(rt *Runtime) { rt.cfg = cfg }
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(rt *Runtime) {
		if l != nil {
			rt.log = l
		}
	}
}

// WithRegisterer registers the runtime's collectors with reg during
// Init.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(rt *Runtime) { rt.reg = reg }
}

// WithMaxSchedulers caps the number of schedulers Init creates.
func WithMaxSchedulers(n int) Option {
	return func(rt *Runtime) { rt.cfg.MaxSchedulers = n }
}

// WithCPUs overrides the detected hardware concurrency.
func WithCPUs(n int) Option {
	return func(rt *Runtime) { rt.cfg.CPUs = n }
}

// WithMaxInFlight bounds outstanding I/O operations per scheduler.
func WithMaxInFlight(n int) Option {
	return func(rt *Runtime) { rt.cfg.MaxInFlight = n }
}

// WithInlinePrimary hosts scheduler 0 on the caller's goroutine.
func WithInlinePrimary(inline bool) Option {
	return func(rt *Runtime) { rt.cfg.InlinePrimary = inline }
}

// WithEngine selects the completion engine.
func WithEngine(k EngineKind) Option {
	return func(rt *Runtime) { rt.cfg.Engine = k.String() }
}
