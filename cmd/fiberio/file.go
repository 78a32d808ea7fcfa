package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/webriots/fiberrt"
)

const pageSize = 4096

type fileOptions struct {
	path   string
	size   int64
	ioSize int
	ios    int
	fibers int
	direct bool
}

// fileStats is written only by fibers of one scheduler and read after
// the runtime has exited.
type fileStats struct {
	reads, writes, failures, interrupted, done int
}

func fileCmd() *cobra.Command {
	var opts fileOptions

	cmd := &cobra.Command{
		Use:   "file",
		Short: "Random block reads and writes from fibers on every scheduler.",
		Long: `Prepares a scratch file, then spawns --fibers fibers on every scheduler.
Each fiber issues --ios reads and writes of one to four --io-size blocks at
random offsets and stops early once the runtime starts shutting down.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.path, "path", "/tmp/fiberio.dat", "scratch file")
	flags.Int64Var(&opts.size, "size", 1<<20, "file size in bytes")
	flags.IntVar(&opts.ioSize, "io-size", pageSize, "base I/O size in bytes")
	flags.IntVar(&opts.ios, "ios", 256, "operations per fiber")
	flags.IntVar(&opts.fibers, "fibers", 10, "fibers per scheduler")
	flags.BoolVar(&opts.direct, "direct", false, "open the file with O_DIRECT")

	return cmd
}

func (o fileOptions) validate() error {
	if o.ioSize <= 0 || o.ioSize%pageSize != 0 {
		return errors.Errorf("io-size must be a positive multiple of %d", pageSize)
	}
	if o.size < int64(4*o.ioSize) {
		return errors.New("size must hold at least four io-size blocks")
	}
	if o.direct && o.size%pageSize != 0 {
		return errors.Errorf("size must be a multiple of %d with --direct", pageSize)
	}
	if o.ios < 0 || o.fibers < 0 {
		return errors.New("ios and fibers must not be negative")
	}
	return nil
}

func runFile(opts fileOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}

	rt, logger, err := startRuntime()
	if err != nil {
		return err
	}

	fd, err := prepareFile(logger, opts)
	if err != nil {
		return multierr.Append(err, stopRuntime(rt, logger))
	}
	defer unix.Close(fd)

	stats := make([]fileStats, rt.NumSchedulers())
	var wg sync.WaitGroup

	logger.Info("launching fibers",
		zap.Int("per_scheduler", opts.fibers),
		zap.Int("schedulers", rt.NumSchedulers()))

	for i := 0; i < opts.fibers; i++ {
		wg.Add(rt.NumSchedulers())
		err := rt.SpawnInAll(func(ctx context.Context) {
			defer wg.Done()
			fileFiber(ctx, logger, opts, fd, i, stats)
		})
		if err != nil {
			logger.Fatal("spawn failed", zap.Error(err))
		}
	}

	wg.Wait()
	if err := stopRuntime(rt, logger); err != nil {
		return err
	}

	for i, st := range stats {
		fmt.Printf("scheduler %d: %d fibers done, %d interrupted, %d reads, %d writes, %d failures\n",
			i, st.done, st.interrupted, st.reads, st.writes, st.failures)
	}
	return nil
}

func fileFiber(ctx context.Context, logger *zap.Logger, opts fileOptions, fd, idx int, stats []fileStats) {
	s := fiberrt.CurrentScheduler(ctx)
	st := &stats[s.Index()]
	rng := rand.New(rand.NewPCG(uint64(s.Index()), uint64(idx)))

	for i := 0; i < opts.ios; i++ {
		if fiberrt.ShuttingDown(ctx) {
			logger.Debug("fiber interrupted", zap.Int("scheduler", s.Index()), zap.Int("fiber", idx))
			st.interrupted++
			return
		}

		j := rng.Uint32()
		size := opts.ioSize * int(j%4+1)
		off := rng.Int64N(opts.size-int64(size)+1) &^ (pageSize - 1)

		buf := fiberrt.AlignedBuffer(size, pageSize)
		read := j&3 != 0
		if read {
			st.reads++
		} else {
			for k := range buf {
				buf[k] = byte(j)
			}
			st.writes++
		}

		if !s.Bridge().RW(ctx, read, fd, off, buf) {
			st.failures++
		}
	}

	logger.Debug("fiber done", zap.Int("scheduler", s.Index()), zap.Int("fiber", idx))
	st.done++
}

func prepareFile(logger *zap.Logger, opts fileOptions) (int, error) {
	flags := unix.O_RDWR | unix.O_CREAT | unix.O_CLOEXEC
	if opts.direct {
		flags |= unix.O_DIRECT
	}

	logger.Info("preparing file", zap.String("path", opts.path), zap.Int64("size", opts.size))
	fd, err := unix.Open(opts.path, flags, 0o644)
	if err != nil {
		return -1, errors.Wrapf(err, "open %s", opts.path)
	}

	const chunk = 64 << 10
	buf := fiberrt.AlignedBuffer(chunk, pageSize)
	for off := int64(0); off < opts.size; off += chunk {
		n := min(int64(chunk), opts.size-off)
		for k := range buf[:n] {
			buf[k] = byte(off / chunk)
		}
		if _, err := unix.Pwrite(fd, buf[:n], off); err != nil {
			unix.Close(fd)
			return -1, errors.Wrapf(err, "fill %s at %d", opts.path, off)
		}
	}
	return fd, nil
}
