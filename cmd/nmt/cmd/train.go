package cmd

import (
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fumitoshi0524/ixeoriNMT/loss"
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/optim"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train on synthetic batches and optionally save a checkpoint",
	RunE:  runTrain,
}

func init() {
	trainCmd.Flags().Int("steps", 10, "optimizer steps per epoch")
	trainCmd.Flags().Int("epochs", 2, "number of epochs")
	trainCmd.Flags().String("method", string(optim.MethodSGD), "optimizer (sgd, adagrad, adadelta, adam, adamw, rmsprop)")
	trainCmd.Flags().Float64("lr", 1.0, "initial learning rate")
	trainCmd.Flags().Float64("weight-decay", 0, "weight decay for adamw and rmsprop")
	trainCmd.Flags().Float64("momentum", 0, "momentum for sgd and rmsprop")
	trainCmd.Flags().Float64("max-grad-norm", 5, "clip gradients to this global norm; 0 disables")
	trainCmd.Flags().Float64("lr-decay", 0.5, "learning rate decay factor")
	trainCmd.Flags().Int("start-decay-at", 8, "epoch from which the learning rate always decays")
	trainCmd.Flags().String("checkpoint", "", "write parameters here after training")
	for key, flag := range map[string]string{
		"train.steps":          "steps",
		"train.epochs":         "epochs",
		"train.method":         "method",
		"train.lr":             "lr",
		"train.weight_decay":   "weight-decay",
		"train.momentum":       "momentum",
		"train.max_grad_norm":  "max-grad-norm",
		"train.lr_decay":       "lr-decay",
		"train.start_decay_at": "start-decay-at",
		"train.checkpoint":     "checkpoint",
	} {
		mustBindPFlag(key, trainCmd.Flags().Lookup(flag))
	}
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
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
	opt, err := optim.New(r.module.Parameters(), optim.Config{
		Method:       optim.Method(viper.GetString("train.method")),
		LR:           viper.GetFloat64("train.lr"),
		WeightDecay:  viper.GetFloat64("train.weight_decay"),
		Momentum:     viper.GetFloat64("train.momentum"),
		MaxGradNorm:  viper.GetFloat64("train.max_grad_norm"),
		LRDecay:      viper.GetFloat64("train.lr_decay"),
		StartDecayAt: viper.GetInt("train.start_decay_at"),
	})
	if err != nil {
		return err
	}
	r.setMode(true)

	steps := viper.GetInt("train.steps")
	for epoch := 1; epoch <= viper.GetInt("train.epochs"); epoch++ {
		total, words := 0.0, 0
		for step := 0; step < steps; step++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			nll, count, err := trainStep(r, opt, r.batch(rng, opts), opts.PadIndex)
			if err != nil {
				return errors.Wrapf(err, "epoch %d step %d", epoch, step)
			}
			total += nll * float64(count)
			words += count
		}
		ppl := math.Exp(total / math.Max(float64(words), 1))
		lr := opt.UpdateLearningRate(ppl, epoch)
		logger.Info("epoch done",
			zap.Int("epoch", epoch),
			zap.Float64("ppl", ppl),
			zap.Int("words", words),
			zap.Float64("lr", lr))
	}

	if path := viper.GetString("train.checkpoint"); path != "" {
		if err := nn.SaveModule(path, r.module); err != nil {
			return errors.Wrap(err, "save checkpoint")
		}
		logger.Info("saved checkpoint", zap.String("path", path))
	}
	return nil
}

// trainStep returns the mean token loss of one batch and the number of
// non-padding gold tokens it covered.
func trainStep(r *runner, opt *optim.Optim, b batch, pad int) (float64, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	opt.ZeroGrad()
	out, err := r.forward(b)
	if err != nil {
		return 0, 0, err
	}
	logProbs, err := r.generator.Forward(out.Outputs)
	if err != nil {
		return 0, 0, err
	}
	gold, err := tensor.Narrow(b.tgt, 0, 1, b.tgt.Dim(0)-1)
	if err != nil {
		return 0, 0, err
	}
	nll, count, err := loss.SequenceNLL(logProbs, gold, pad)
	if err != nil {
		return 0, 0, err
	}
	if count == 0 {
		return 0, 0, nil
	}
	if err := nll.Backward(); err != nil {
		return 0, 0, err
	}
	if _, err := opt.Step(); err != nil {
		return 0, 0, err
	}
	return nll.Data()[0], count, nil
}
