package model

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fumitoshi0524/ixeoriNMT/decoder"
	"github.com/fumitoshi0524/ixeoriNMT/encoder"
	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/memory"
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// TwoEncoderConfig wires a TwoEncoderModel. Exactly one of Encoder and
// PairEncoder is set. Memory is optional.
type TwoEncoderConfig struct {
	Encoder     encoder.Encoder
	PairEncoder encoder.PairEncoder
	Decoder     decoder.Decoder
	Generator   *Generator
	Memory      *memory.Lookup
	MultiGPU    bool
	Logger      *zap.Logger
}

// TwoEncoderModel reads a post and a conversation as one source. A
// single-stream encoder sees both streams merged per row; a pair encoder
// reads them side by side and its memory bank is merged the same way.
type TwoEncoderModel struct {
	encoder  encoder.Encoder
	pair     encoder.PairEncoder
	decoder  decoder.Decoder
	gen      *Generator
	memory   *memory.Lookup
	multiGPU bool
	logger   *zap.Logger
}

func NewTwoEncoderModel(cfg TwoEncoderConfig) (*TwoEncoderModel, error) {
	if (cfg.Encoder == nil) == (cfg.PairEncoder == nil) {
		return nil, errors.New("two-encoder model needs exactly one of Encoder and PairEncoder")
	}
	if cfg.Decoder == nil {
		return nil, errors.New("two-encoder model needs a decoder")
	}
	if cfg.Memory != nil {
		if err := check.Equal("memory dim vs decoder hidden", cfg.Memory.Dim(), cfg.Decoder.HiddenSize()); err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TwoEncoderModel{
		encoder:  cfg.Encoder,
		pair:     cfg.PairEncoder,
		decoder:  cfg.Decoder,
		gen:      cfg.Generator,
		memory:   cfg.Memory,
		multiGPU: cfg.MultiGPU,
		logger:   logger,
	}, nil
}

func (m *TwoEncoderModel) Decoder() decoder.Decoder { return m.decoder }

func (m *TwoEncoderModel) Generator() *Generator { return m.gen }

func (m *TwoEncoderModel) Memory() *memory.Lookup { return m.memory }

// Forward encodes src and conversation, both [time, batch, channels], with
// their own lengths, and decodes tgt without its last position against
// memory positions [0, srcLengths[b]+convLengths[b]) of each row.
func (m *TwoEncoderModel) Forward(src, conversation, tgt *tensor.Tensor, srcLengths, convLengths []int, state decoder.State) (Output, error) {
	if src.Rank() != 3 || conversation.Rank() != 3 {
		return Output{}, errors.Wrapf(check.ErrShapeMismatch, "streams must be rank 3, got %v and %v", src.Shape(), conversation.Shape())
	}
	batch := src.Dim(1)
	if err := check.Equal("source vs conversation batch", batch, conversation.Dim(1)); err != nil {
		return Output{}, err
	}
	if err := check.Lengths(srcLengths, batch, src.Dim(0)); err != nil {
		return Output{}, err
	}
	if err := check.Lengths(convLengths, batch, conversation.Dim(0)); err != nil {
		return Output{}, err
	}
	inputs, err := dropLast(tgt)
	if err != nil {
		return Output{}, err
	}
	lengths := sumLengths(srcLengths, convLengths)
	order := mergeOrder(src.Dim(0), conversation.Dim(0), srcLengths, convLengths)

	final, bank, err := m.encode(src, conversation, srcLengths, convLengths, lengths, order)
	if err != nil {
		return Output{}, errors.Wrap(err, "encode")
	}
	if m.memory != nil {
		read, _, err := m.memory.Read(src)
		if err != nil {
			return Output{}, errors.Wrap(err, "memory read")
		}
		spread, err := tensor.Expand(read, 0, bank.Dim(0))
		if err != nil {
			return Output{}, err
		}
		if bank, err = tensor.Add(bank, spread); err != nil {
			return Output{}, errors.Wrap(err, "add memory read")
		}
	}
	return decode(m.decoder, inputs, bank, final, lengths, state, m.multiGPU, m.logger)
}

func (m *TwoEncoderModel) encode(src, conversation *tensor.Tensor, srcLengths, convLengths, lengths []int, order [][]int) (nn.State, *tensor.Tensor, error) {
	if m.pair != nil {
		final, bank, err := m.pair.EncodePair(src, srcLengths, conversation, convLengths, nn.State{})
		if err != nil {
			return nn.State{}, nil, err
		}
		bank, err = permuteTime(bank, order)
		return final, bank, err
	}
	joined, err := tensor.Concat(0, src, conversation)
	if err != nil {
		return nn.State{}, nil, err
	}
	if joined, err = permuteTime(joined, order); err != nil {
		return nn.State{}, nil, err
	}
	return m.encoder.Encode(joined, lengths, nn.State{})
}

func (m *TwoEncoderModel) Parameters() []*tensor.Tensor {
	var enc nn.Module = m.encoder
	if m.pair != nil {
		enc = m.pair
	}
	params := nn.Collect(enc, m.decoder, m.gen)
	if m.memory != nil {
		params = append(params, m.memory.Parameters()...)
	}
	return params
}

func (m *TwoEncoderModel) ZeroGrad() {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

func (m *TwoEncoderModel) SetTraining(training bool) {
	nn.SetTraining(training, m.encoder, m.pair, m.decoder)
}
