// Command fiberio drives the fiberrt runtime against a scratch file and
// reports what every scheduler did.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/webriots/fiberrt"
)

const envPrefix = "FIBERIO"

var (
	v         = viper.New()
	verbosity int
	metrics   string
)

var rootCmd = &cobra.Command{
	Use:           "fiberio",
	Short:         "Exercise the fiberrt scheduler pool.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	flags := rootCmd.PersistentFlags()
	flags.IntVar(&verbosity, "verbosity", 1, "log verbosity: 0 warn, 1 info, 2 debug")
	flags.StringVar(&metrics, "metrics-addr", "", "serve prometheus metrics on this address")
	flags.Int("max-schedulers", fiberrt.DefaultMaxSchedulers, "upper bound on schedulers")
	flags.Int("cpus", 0, "hardware concurrency to assume, 0 to detect")
	flags.Int("max-in-flight", fiberrt.DefaultMaxInFlight, "outstanding I/O operations per scheduler")
	flags.String("engine", "auto", "completion engine: auto, kernel or pool")

	cobra.OnInitialize(func() { bindConfig(flags) })

	rootCmd.AddCommand(fileCmd(), pingPongCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fiberio:", err)
		os.Exit(1)
	}
}

// bindConfig lets FIBERIO_* variables stand in for any runtime flag.
func bindConfig(flags *pflag.FlagSet) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range []string{"max-schedulers", "cpus", "max-in-flight", "engine"} {
		_ = v.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}
}

// startRuntime builds the logger and registry, initializes the runtime
// and forwards SIGINT and SIGTERM to RequestShutdown.
func startRuntime() (*fiberrt.Runtime, *zap.Logger, error) {
	logger, err := newLogger(verbosity)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := loadRuntimeConfig(v)
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	rt := fiberrt.New(
		fiberrt.WithConfig(cfg),
		fiberrt.WithLogger(logger),
		fiberrt.WithRegisterer(reg),
	)
	if err := rt.Init(); err != nil {
		logger.Fatal("runtime init failed", zap.Error(err))
	}

	if metrics != "" {
		go func() {
			h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
			err := http.ListenAndServe(metrics, h)
			logger.Warn("metrics server stopped", zap.Error(err))
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Info("interrupted, asking fibers to stop", zap.Stringer("signal", sig))
		rt.RequestShutdown()
	}()

	return rt, logger, nil
}

// loadRuntimeConfig reads the runtime configuration. Both subcommands
// wait on the calling goroutine instead of driving a loop, so an
// inline primary scheduler would never run.
func loadRuntimeConfig(v *viper.Viper) (fiberrt.Config, error) {
	cfg, err := fiberrt.LoadConfig(v)
	if err != nil {
		return fiberrt.Config{}, err
	}
	if cfg.InlinePrimary {
		return fiberrt.Config{}, errors.New("inline_primary is not supported by fiberio")
	}
	return cfg, nil
}

func stopRuntime(rt *fiberrt.Runtime, logger *zap.Logger) error {
	rt.Quiesce()
	err := rt.Exit()
	_ = logger.Sync()
	return errors.Wrap(err, "exit runtime")
}
