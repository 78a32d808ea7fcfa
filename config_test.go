package fiberrt

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	r := require.New(t)

	cfg := DefaultConfig()
	r.NoError(cfg.Validate())
	r.Equal(DefaultMaxSchedulers, cfg.MaxSchedulers)
	r.Equal(DefaultMaxInFlight, cfg.MaxInFlight)
	r.Equal(EngineAuto, cfg.engineKind())
	r.Equal(min(runtime.NumCPU(), DefaultMaxSchedulers), cfg.NumSchedulers())
}

func TestConfigValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"max schedulers": func(c *Config) { c.MaxSchedulers = 0 },
		"cpus":           func(c *Config) { c.CPUs = -1 },
		"max in flight":  func(c *Config) { c.MaxInFlight = 0 },
		"engine":         func(c *Config) { c.Engine = "uring" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigYAML(t *testing.T) {
	r := require.New(t)

	v := viper.New()
	v.SetConfigType("yaml")
	r.NoError(v.ReadConfig(bytes.NewBufferString(`
max_schedulers: 2
cpus: 8
max_in_flight: 64
inline_primary: true
engine: pool
`)))

	cfg, err := LoadConfig(v)
	r.NoError(err)
	r.Equal(Config{
		MaxSchedulers: 2,
		CPUs:          8,
		MaxInFlight:   64,
		InlinePrimary: true,
		Engine:        "pool",
	}, cfg)
	r.Equal(2, cfg.NumSchedulers())
	r.Equal(EnginePool, cfg.engineKind())
}

func TestLoadConfigEnv(t *testing.T) {
	r := require.New(t)

	t.Setenv("FIBERRT_MAX_IN_FLIGHT", "8")
	t.Setenv("FIBERRT_ENGINE", "kernel")

	v := viper.New()
	v.SetEnvPrefix("fiberrt")
	v.AutomaticEnv()

	cfg, err := LoadConfig(v)
	r.NoError(err)
	r.Equal(8, cfg.MaxInFlight)
	r.Equal("kernel", cfg.Engine)
	r.Equal(DefaultMaxSchedulers, cfg.MaxSchedulers)
}

func TestLoadConfigInvalid(t *testing.T) {
	r := require.New(t)

	v := viper.New()
	v.Set("max_in_flight", 0)

	_, err := LoadConfig(v)
	r.Error(err)
}
