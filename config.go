package fiberrt

import (
	"runtime"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	// DefaultMaxSchedulers caps the number of schedulers Init creates
	// regardless of how many CPUs are available.
	DefaultMaxSchedulers = 4
)

// Config controls how Init sizes and builds the scheduler pool.
type Config struct {
	// MaxSchedulers caps the pool size.
	MaxSchedulers int `mapstructure:"max_schedulers"`
	// CPUs overrides the detected hardware concurrency when positive.
	CPUs int `mapstructure:"cpus"`
	// MaxInFlight bounds outstanding I/O operations per scheduler.
	MaxInFlight int `mapstructure:"max_in_flight"`
	// InlinePrimary hosts scheduler 0 on the goroutine that calls
	// RunLoop, RunUntilIdle and Exit instead of a dedicated thread.
	InlinePrimary bool `mapstructure:"inline_primary"`
	// Engine names the completion engine: auto, kernel or pool.
	Engine string `mapstructure:"engine"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MaxSchedulers: DefaultMaxSchedulers,
		MaxInFlight:   DefaultMaxInFlight,
		Engine:        EngineAuto.String(),
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.MaxSchedulers < 1 {
		return errors.Errorf("fiberrt: max_schedulers must be positive, got %d", c.MaxSchedulers)
	}
	if c.CPUs < 0 {
		return errors.Errorf("fiberrt: cpus must not be negative, got %d", c.CPUs)
	}
	if c.MaxInFlight < 1 {
		return errors.Errorf("fiberrt: max_in_flight must be positive, got %d", c.MaxInFlight)
	}
	if _, err := ParseEngineKind(c.Engine); err != nil {
		return err
	}
	return nil
}

// NumSchedulers returns min(CPUs, MaxSchedulers), using
// runtime.NumCPU when CPUs is unset.
func (c Config) NumSchedulers() int {
	cpus := c.CPUs
	if cpus <= 0 {
		cpus = runtime.NumCPU()
	}
	return min(cpus, c.MaxSchedulers)
}

func (c Config) engineKind() EngineKind {
	k, _ := ParseEngineKind(c.Engine)
	return k
}

// LoadConfig reads a Config from v, filling unset keys from
// DefaultConfig.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	v.SetDefault("max_schedulers", cfg.MaxSchedulers)
	v.SetDefault("cpus", cfg.CPUs)
	v.SetDefault("max_in_flight", cfg.MaxInFlight)
	v.SetDefault("inline_primary", cfg.InlinePrimary)
	v.SetDefault("engine", cfg.Engine)

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "fiberrt: decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
