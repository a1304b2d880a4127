package decoder

import (
	"go.uber.org/zap"

	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// InputFeed decodes one position at a time, feeding each step's attended
// output into the next step's input.
type InputFeed struct {
	*base
	rnn *nn.StackedCell
}

func newInputFeed(cfg Config) (*InputFeed, error) {
	inputSize := cfg.Embeddings.EmbeddingSize() + cfg.HiddenSize
	b, err := newBase(cfg, inputSize)
	if err != nil {
		return nil, err
	}
	rnn, err := nn.NewStackedCell(cfg.CellKind, cfg.Layers, inputSize, cfg.HiddenSize, cfg.Dropout)
	if err != nil {
		return nil, err
	}
	return &InputFeed{base: b, rnn: rnn}, nil
}

// SetTraining toggles dropout in the embeddings, cells and output.
func (d *InputFeed) SetTraining(training bool) {
	nn.SetTraining(training, d.embeddings, d.rnn, d.dropout)
}

// Decode implements Decoder. Coverage continues from state when it holds
// one.
func (d *InputFeed) Decode(tgt, memory *tensor.Tensor, state State, memoryLengths []int) (*tensor.Tensor, State, Attentions, error) {
	memoryBatch, err := d.checkDecode(tgt, memory, state)
	if err != nil {
		return nil, State{}, nil, err
	}
	inputFeed, err := tensor.Squeeze(state.inputFeed, 0)
	if err != nil {
		return nil, State{}, nil, err
	}
	if err := check.Equal("target vs input feed batch", tgt.Dim(1), inputFeed.Dim(0)); err != nil {
		return nil, State{}, nil, err
	}
	var coverage *tensor.Tensor
	if state.coverage != nil && d.cfg.Coverage {
		if coverage, err = tensor.Squeeze(state.coverage, 0); err != nil {
			return nil, State{}, nil, err
		}
	}

	emb, err := d.embeddings.Forward(tgt)
	if err != nil {
		return nil, State{}, nil, err
	}
	frames, err := tensor.Unbind(0, emb)
	if err != nil {
		return nil, State{}, nil, err
	}

	hidden := state.hidden
	outputs := make([]*tensor.Tensor, 0, len(frames))
	steps := map[string][]*tensor.Tensor{}
	for _, embT := range frames {
		input, err := tensor.Concat(1, embT, inputFeed)
		if err != nil {
			return nil, State{}, nil, err
		}
		rnnOut, next, err := d.rnn.Step(input, hidden)
		if err != nil {
			return nil, State{}, nil, err
		}
		hidden = next
		out, align, err := d.attn.Attend(rnnOut, memoryBatch, memoryLengths, coverage)
		if err != nil {
			return nil, State{}, nil, err
		}
		if d.contextGate != nil {
			if out, err = d.contextGate.Forward(input, rnnOut, out); err != nil {
				return nil, State{}, nil, err
			}
		}
		if out, err = d.dropout.Forward(out); err != nil {
			return nil, State{}, nil, err
		}
		inputFeed = out
		outputs = append(outputs, out)
		steps[AttnStd] = append(steps[AttnStd], align)

		if d.cfg.Coverage {
			if coverage == nil {
				coverage = align
			} else if coverage, err = tensor.Add(coverage, align); err != nil {
				return nil, State{}, nil, err
			}
			steps[AttnCoverage] = append(steps[AttnCoverage], coverage)
		}
		if d.copyAttn != nil {
			_, copyAlign, err := d.copyAttn.Attend(out, memoryBatch, memoryLengths, nil)
			if err != nil {
				return nil, State{}, nil, err
			}
			steps[AttnCopy] = append(steps[AttnCopy], copyAlign)
		}
	}

	attns := Attentions{}
	for key, seq := range steps {
		if attns[key], err = tensor.Stack(0, seq...); err != nil {
			return nil, State{}, nil, err
		}
	}
	if d.cfg.Copy && d.copyAttn == nil {
		attns[AttnCopy] = attns[AttnStd]
	}
	stacked, err := tensor.Stack(0, outputs...)
	if err != nil {
		return nil, State{}, nil, err
	}
	next, err := d.finish(state, hidden, stacked, attns)
	if err != nil {
		return nil, State{}, nil, err
	}
	d.logger.Debug("input feed decode",
		zap.Ints("outputs", stacked.Shape()),
		zap.Int("steps", len(frames)),
		zap.Bool("coverage", d.cfg.Coverage))
	return stacked, next, attns, nil
}

// Parameters returns every trainable tensor of the decoder.
func (d *InputFeed) Parameters() []*tensor.Tensor {
	return append(d.parameters(), d.rnn.Parameters()...)
}

// ZeroGrad clears the gradients of every parameter.
func (d *InputFeed) ZeroGrad() {
	for _, p := range d.Parameters() {
		p.ZeroGrad()
	}
}
