// Package model wires encoders, decoders and the optional document memory
// into trainable sequence-to-sequence models.
package model

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fumitoshi0524/ixeoriNMT/decoder"
	"github.com/fumitoshi0524/ixeoriNMT/encoder"
	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// NMTModel is a single-encoder attention model.
type NMTModel struct {
	encoder   encoder.Encoder
	decoder   decoder.Decoder
	generator *Generator
	multiGPU  bool
	logger    *zap.Logger
}

func NewNMTModel(enc encoder.Encoder, dec decoder.Decoder, gen *Generator, multiGPU bool, logger *zap.Logger) *NMTModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NMTModel{encoder: enc, decoder: dec, generator: gen, multiGPU: multiGPU, logger: logger}
}

func (m *NMTModel) Encoder() encoder.Encoder { return m.encoder }

func (m *NMTModel) Decoder() decoder.Decoder { return m.decoder }

func (m *NMTModel) Generator() *Generator { return m.generator }

// Forward encodes src [srcLen, batch, channels] and decodes tgt
// [tgtLen, batch, channels] without its last position. A zero state starts
// decoding from the encoder's final state.
func (m *NMTModel) Forward(src, tgt *tensor.Tensor, lengths []int, state decoder.State) (Output, error) {
	inputs, err := dropLast(tgt)
	if err != nil {
		return Output{}, err
	}
	final, memory, err := m.encoder.Encode(src, lengths, nn.State{})
	if err != nil {
		return Output{}, errors.Wrap(err, "encode")
	}
	return decode(m.decoder, inputs, memory, final, lengths, state, m.multiGPU, m.logger)
}

func (m *NMTModel) Parameters() []*tensor.Tensor {
	return nn.Collect(m.encoder, m.decoder, m.generator)
}

func (m *NMTModel) ZeroGrad() { nn.ZeroGradAll(m.encoder, m.decoder, m.generator) }

func (m *NMTModel) SetTraining(training bool) {
	nn.SetTraining(training, m.encoder, m.decoder)
}

// dropLast removes the final target position: it is only ever predicted.
func dropLast(tgt *tensor.Tensor) (*tensor.Tensor, error) {
	if tgt.Rank() != 3 || tgt.Dim(0) < 2 {
		return nil, errors.Wrapf(check.ErrShapeMismatch, "target must be [time>=2, batch, channels], got %v", tgt.Shape())
	}
	return tensor.Narrow(tgt, 0, 0, tgt.Dim(0)-1)
}

func decode(dec decoder.Decoder, tgt, memory *tensor.Tensor, final nn.State, lengths []int, state decoder.State, multiGPU bool, logger *zap.Logger) (Output, error) {
	if state.IsZero() {
		var err error
		if state, err = dec.InitState(final); err != nil {
			return Output{}, errors.Wrap(err, "init decoder state")
		}
	}
	outputs, next, attns, err := dec.Decode(tgt, memory, state, lengths)
	if err != nil {
		return Output{}, errors.Wrap(err, "decode")
	}
	logger.Debug("model forward",
		zap.Ints("memory", memory.Shape()),
		zap.Ints("outputs", outputs.Shape()),
		zap.Bool("multigpu", multiGPU))
	if multiGPU {
		return Output{Outputs: outputs, degraded: true}, nil
	}
	return Output{Outputs: outputs, state: next, attns: attns}, nil
}
