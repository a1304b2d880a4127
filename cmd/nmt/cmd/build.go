package cmd

import (
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fumitoshi0524/ixeoriNMT/decoder"
	"github.com/fumitoshi0524/ixeoriNMT/model"
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// batch is one synthetic training example set. conv and convLengths are
// only set for two-encoder models.
type batch struct {
	src, conv, tgt          *tensor.Tensor
	srcLengths, convLengths []int
}

// runner hides the difference between the two model shapes. Forward passes
// hold mu for reading; mode switches and optimizer steps hold it for writing.
type runner struct {
	mu          sync.RWMutex
	module      nn.Module
	generator   *model.Generator
	setTraining func(bool)
	forward     func(b batch) (model.Output, error)
	twoEncoder  bool
}

func loadOptions() (model.Options, error) {
	opts := model.DefaultOptions()
	if err := viper.UnmarshalKey("model", &opts); err != nil {
		return opts, errors.Wrap(err, "decode model options")
	}
	return opts, opts.Validate()
}

func buildRunner(opts model.Options, rng *rand.Rand, logger *zap.Logger) (*runner, error) {
	if !opts.TwoEncoder {
		m, err := model.BuildNMT(opts, logger)
		if err != nil {
			return nil, err
		}
		return &runner{
			module:      m,
			generator:   m.Generator(),
			setTraining: m.SetTraining,
			forward: func(b batch) (model.Output, error) {
				return m.Forward(b.src, b.tgt, b.srcLengths, decoder.State{})
			},
		}, nil
	}

	var docs *model.Documents
	if opts.Memory {
		n := viper.GetInt("memory.docs")
		tokens, lengths := randomTokens(rng, viper.GetInt("memory.doc_len"), n, srcVocabs(opts), opts.PadIndex)
		docs = &model.Documents{Tokens: tokens, Lengths: lengths}
	}
	m, err := model.BuildTwoEncoder(opts, docs, logger)
	if err != nil {
		return nil, err
	}
	return &runner{
		module:      m,
		generator:   m.Generator(),
		setTraining: m.SetTraining,
		forward: func(b batch) (model.Output, error) {
			return m.Forward(b.src, b.conv, b.tgt, b.srcLengths, b.convLengths, decoder.State{})
		},
		twoEncoder: true,
	}, nil
}

func (r *runner) setMode(training bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setTraining(training)
}

func (r *runner) readForward(b batch) (model.Output, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.forward(b)
}

func srcVocabs(opts model.Options) []int {
	return append([]int{opts.SrcVocabSize}, opts.SrcFeatureVocabs...)
}

func (r *runner) batch(rng *rand.Rand, opts model.Options) batch {
	size := viper.GetInt("batch.size")
	var b batch
	b.src, b.srcLengths = randomTokens(rng, viper.GetInt("batch.src_len"), size, srcVocabs(opts), opts.PadIndex)
	if r.twoEncoder {
		b.conv, b.convLengths = randomTokens(rng, viper.GetInt("batch.conv_len"), size, srcVocabs(opts), opts.PadIndex)
	}
	b.tgt, _ = randomTokens(rng, viper.GetInt("batch.tgt_len"), size, []int{opts.TgtVocabSize}, opts.PadIndex)
	return b
}

// randomTokens draws a [steps, size, len(vocabs)] id tensor. Row 0 always
// spans every step; later rows get a random length in [1, steps].
func randomTokens(rng *rand.Rand, steps, size int, vocabs []int, pad int) (*tensor.Tensor, []int) {
	channels := len(vocabs)
	lengths := make([]int, size)
	ids := make([]int, steps*size*channels)
	for b := range lengths {
		lengths[b] = steps
		if b > 0 {
			lengths[b] = 1 + rng.Intn(steps)
		}
	}
	for s := 0; s < steps; s++ {
		for b := 0; b < size; b++ {
			for c, vocab := range vocabs {
				id := pad
				for s < lengths[b] && id == pad && vocab > 1 {
					id = rng.Intn(vocab)
				}
				ids[(s*size+b)*channels+c] = id
			}
		}
	}
	out, _ := tensor.FromInts(ids, steps, size, channels)
	return out, lengths
}
