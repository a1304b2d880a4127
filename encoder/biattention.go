package encoder

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// BiAttention reads a source stream and an answer stream through a shared
// bidirectional recurrent block, lets each stream attend to the other, and
// fuses both into one memory bank of length srcLen+ansLen.
type BiAttention struct {
	embeddings    *nn.Embeddings
	rnn           *nn.RNN
	combineOutput *nn.Linear
	combineHidden *nn.Linear
	hidden        int
	logger        *zap.Logger
}

// NewBiAttention expects a bidirectional two-layer configuration; the two
// layers are consumed as one bidirectional block shared by both streams.
func NewBiAttention(cfg Config) (*BiAttention, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !cfg.Bidirectional || cfg.Layers != 2 {
		return nil, errors.Errorf("biattention needs a bidirectional 2-layer setup, got bidirectional=%v layers=%d", cfg.Bidirectional, cfg.Layers)
	}
	if !cfg.CellKind.Packable() {
		return nil, errors.Wrapf(nn.ErrUnsupportedKind, "biattention over %s", cfg.CellKind)
	}
	hidden := cfg.HiddenSize / 2
	rnn, err := nn.NewRNN(nn.RNNConfig{
		Kind:          cfg.CellKind,
		InputSize:     cfg.Embeddings.EmbeddingSize(),
		HiddenSize:    hidden,
		Layers:        1,
		Bidirectional: true,
	})
	if err != nil {
		return nil, err
	}
	b := &BiAttention{
		embeddings:    cfg.Embeddings,
		rnn:           rnn,
		combineOutput: nn.NewLinear(4*hidden, 2*hidden, true),
		combineHidden: nn.NewLinear(2*hidden, hidden, true),
		hidden:        hidden,
		logger:        cfg.logger(),
	}
	b.logger.Info("built encoder",
		zap.String("kind", string(KindBiAttention)),
		zap.String("cell", string(cfg.CellKind)),
		zap.Int("hidden", cfg.HiddenSize))
	return b, nil
}

func (b *BiAttention) Bidirectional() bool { return true }

func (b *BiAttention) SetTraining(training bool) {
	nn.SetTraining(training, b.embeddings, b.rnn)
}

// EncodePair returns the fused [2, batch, hidden/2] state and the
// [srcLen+ansLen, batch, hidden] memory bank. Both length vectors are
// required.
func (b *BiAttention) EncodePair(src *tensor.Tensor, srcLengths []int, ans *tensor.Tensor, ansLengths []int, init nn.State) (nn.State, *tensor.Tensor, error) {
	if srcLengths == nil || ansLengths == nil {
		return nn.State{}, nil, errors.New("biattention needs lengths for both streams")
	}
	_, batch, err := checkArgs(src, srcLengths)
	if err != nil {
		return nn.State{}, nil, err
	}
	_, ansBatch, err := checkArgs(ans, ansLengths)
	if err != nil {
		return nn.State{}, nil, err
	}
	if err := check.Equal("source vs answer batch", batch, ansBatch); err != nil {
		return nn.State{}, nil, err
	}

	var (
		g                  errgroup.Group
		srcOut, ansOut     *tensor.Tensor
		srcFinal, ansFinal nn.State
	)
	g.Go(func() error {
		var err error
		srcOut, srcFinal, err = b.runStream(src, srcLengths, init)
		return errors.Wrap(err, "source stream")
	})
	g.Go(func() error {
		var err error
		ansOut, ansFinal, err = b.runSorted(ans, ansLengths, init)
		return errors.Wrap(err, "answer stream")
	})
	if err := g.Wait(); err != nil {
		return nn.State{}, nil, err
	}

	memory, err := b.match(srcOut, srcLengths, ansOut, ansLengths)
	if err != nil {
		return nn.State{}, nil, err
	}
	hidden, err := srcFinal.Zip(ansFinal, func(s, a *tensor.Tensor) (*tensor.Tensor, error) {
		cat, err := tensor.Concat(2, s, a)
		if err != nil {
			return nil, err
		}
		return b.combineHidden.Forward(cat)
	})
	if err != nil {
		return nn.State{}, nil, err
	}
	b.logger.Debug("biattention encode",
		zap.Ints("memory", memory.Shape()),
		zap.Ints("final", hidden.Shape()))
	return hidden, memory, nil
}

func (b *BiAttention) runStream(tokens *tensor.Tensor, lengths []int, init nn.State) (*tensor.Tensor, nn.State, error) {
	emb, err := b.embeddings.Forward(tokens)
	if err != nil {
		return nil, nn.State{}, err
	}
	packed, err := nn.Pack(emb, lengths)
	if err != nil {
		return nil, nn.State{}, err
	}
	out, final, err := nn.RunPacked(b.rnn, packed, init)
	if err != nil {
		return nil, nn.State{}, err
	}
	memory, _, err := nn.Unpack(out)
	return memory, final, err
}

// runSorted runs the stream with rows in descending length order and puts
// outputs and final state back into the caller's row order.
func (b *BiAttention) runSorted(tokens *tensor.Tensor, lengths []int, init nn.State) (*tensor.Tensor, nn.State, error) {
	order := nn.SortByLength(lengths)
	unsort := nn.InversePermutation(order)
	sorted, err := tensor.IndexSelect(tokens, 1, order)
	if err != nil {
		return nil, nn.State{}, err
	}
	if !init.IsZero() {
		if init, err = init.Map(func(t *tensor.Tensor) (*tensor.Tensor, error) {
			return tensor.IndexSelect(t, 1, order)
		}); err != nil {
			return nil, nn.State{}, err
		}
	}
	emb, err := b.embeddings.Forward(sorted)
	if err != nil {
		return nil, nn.State{}, err
	}
	packed, err := nn.PackSorted(emb, nn.Permuted(lengths, order))
	if err != nil {
		return nil, nn.State{}, err
	}
	out, final, err := nn.RunPacked(b.rnn, packed, init)
	if err != nil {
		return nil, nn.State{}, err
	}
	memory, _, err := nn.Unpack(out)
	if err != nil {
		return nil, nn.State{}, err
	}
	if memory, err = tensor.IndexSelect(memory, 1, unsort); err != nil {
		return nil, nn.State{}, err
	}
	final, err = final.Map(func(t *tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.IndexSelect(t, 1, unsort)
	})
	return memory, final, err
}

// match attends each stream over the other, masking the attended stream's
// padding, and fuses [own; matched] through combineOutput.
func (b *BiAttention) match(srcOut *tensor.Tensor, srcLengths []int, ansOut *tensor.Tensor, ansLengths []int) (*tensor.Tensor, error) {
	src, err := tensor.SwapTimeBatch(srcOut)
	if err != nil {
		return nil, err
	}
	ans, err := tensor.SwapTimeBatch(ansOut)
	if err != nil {
		return nil, err
	}
	ansT, err := tensor.Permute(ans, 0, 2, 1)
	if err != nil {
		return nil, err
	}
	scores, err := tensor.BatchMatMul(src, ansT)
	if err != nil {
		return nil, err
	}
	srcMatched, err := attendOver(scores, ansLengths, ans)
	if err != nil {
		return nil, err
	}
	scoresT, err := tensor.Permute(scores, 0, 2, 1)
	if err != nil {
		return nil, err
	}
	ansMatched, err := attendOver(scoresT, srcLengths, src)
	if err != nil {
		return nil, err
	}

	srcCat, err := tensor.Concat(2, src, srcMatched)
	if err != nil {
		return nil, err
	}
	ansCat, err := tensor.Concat(2, ans, ansMatched)
	if err != nil {
		return nil, err
	}
	joined, err := tensor.Concat(1, srcCat, ansCat)
	if err != nil {
		return nil, err
	}
	fused, err := b.combineOutput.Forward(joined)
	if err != nil {
		return nil, err
	}
	return tensor.SwapTimeBatch(fused)
}

// attendOver normalizes [B, Q, K] scores over keys shorter than lengths
// and returns the weighted sum of values [B, K, D].
func attendOver(scores *tensor.Tensor, lengths []int, values *tensor.Tensor) (*tensor.Tensor, error) {
	masked, err := tensor.MaskScores(scores, lengths)
	if err != nil {
		return nil, err
	}
	weights, err := tensor.Softmax(masked, 2)
	if err != nil {
		return nil, err
	}
	return tensor.BatchMatMul(weights, values)
}

func (b *BiAttention) Parameters() []*tensor.Tensor {
	return nn.Collect(b.embeddings, b.rnn, b.combineOutput, b.combineHidden)
}

func (b *BiAttention) ZeroGrad() {
	for _, p := range b.Parameters() {
		p.ZeroGrad()
	}
}
