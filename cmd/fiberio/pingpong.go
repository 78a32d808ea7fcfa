package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webriots/fiberrt"
)

func pingPongCmd() *cobra.Command {
	var iters int

	cmd := &cobra.Command{
		Use:   "pingpong",
		Short: "Measure baton switch latency between two fibers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, logger, err := startRuntime()
			if err != nil {
				return err
			}

			var elapsed time.Duration
			err = rt.MustScheduler(0).RunAndWait(func(ctx context.Context) {
				elapsed = pingPong(ctx, iters)
			})
			if err != nil {
				logger.Error("ping-pong did not run", zap.Error(err))
			}

			if err := stopRuntime(rt, logger); err != nil {
				return err
			}

			fmt.Printf("done in %d msec\nlatency: ~%.1f nsec/switch\n",
				elapsed.Milliseconds(), float64(elapsed.Nanoseconds())/float64(max(iters, 1)))
			return nil
		},
	}

	cmd.Flags().IntVar(&iters, "iters", 3_000_000, "round trips")
	return cmd
}

// pingPong bounces two batons between the calling fiber and a helper
// fiber iters times and returns the elapsed time.
func pingPong(ctx context.Context, iters int) time.Duration {
	s := fiberrt.CurrentScheduler(ctx)
	ping, pong := fiberrt.NewBaton(s), fiberrt.NewBaton(s)
	var wg fiberrt.WaitGroup

	wg.Add(1)
	s.SpawnLocal(ctx, func(ctx context.Context) {
		defer wg.Done()
		for i := 0; i < iters; i++ {
			ping.Wait(ctx)
			ping.Reset()
			pong.Post(0)
		}
	})

	start := time.Now()
	for i := 0; i < iters; i++ {
		ping.Post(0)
		pong.Wait(ctx)
		pong.Reset()
	}
	elapsed := time.Since(start)

	wg.Wait(ctx)
	return elapsed
}
