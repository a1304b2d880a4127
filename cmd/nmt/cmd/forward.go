package cmd

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fumitoshi0524/ixeoriNMT/decoder"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Run teacher-forced forward passes over synthetic batches",
	RunE:  runForward,
}

func init() {
	forwardCmd.Flags().Int("requests", 4, "number of batches to forward")
	forwardCmd.Flags().Int("workers", 2, "maximum concurrent forward passes")
	mustBindPFlag("forward.requests", forwardCmd.Flags().Lookup("requests"))
	mustBindPFlag("forward.workers", forwardCmd.Flags().Lookup("workers"))
	rootCmd.AddCommand(forwardCmd)
}

func runForward(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(viper.GetString("log.level"), viper.GetString("log.style"))
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	opts, err := loadOptions()
	if err != nil {
		return err
	}
	seed := viper.GetInt64("seed")
	tensor.Seed(seed)
	rng := rand.New(rand.NewSource(seed))
	r, err := buildRunner(opts, rng, logger)
	if err != nil {
		return errors.Wrap(err, "build model")
	}
	r.setMode(false)

	requests := viper.GetInt("forward.requests")
	workers := viper.GetInt("forward.workers")
	if workers < 1 {
		return errors.Errorf("workers must be positive, got %d", workers)
	}
	batches := make([]batch, requests)
	for i := range batches {
		batches[i] = r.batch(rng, opts)
	}
	logger.Info("forwarding batches", zap.Int("requests", requests), zap.Int("workers", workers))
	return forwardAll(ctx, r, batches, int64(workers), logger)
}

// forwardAll runs every batch through r with at most workers passes in
// flight.
func forwardAll(ctx context.Context, r *runner, batches []batch, workers int64, logger *zap.Logger) error {
	sem := semaphore.NewWeighted(workers)
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range batches {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		i, b := i, b
		g.Go(func() error {
			defer sem.Release(1)
			out, err := r.readForward(b)
			if err != nil {
				return errors.Wrapf(err, "batch %d", i)
			}
			fields := []zap.Field{zap.Int("batch", i), zap.Ints("outputs", out.Outputs.Shape())}
			if attns, err := out.Attentions(); err == nil {
				fields = append(fields, zap.Ints("std", attns[decoder.AttnStd].Shape()))
			}
			logger.Info("forward done", fields...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
