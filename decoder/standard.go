package decoder

import (
	"go.uber.org/zap"

	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// Standard runs the whole target through the recurrent transducer in one
// call, then attends for every position at once. It has no input feeding,
// coverage or copy attention.
type Standard struct {
	*base
	rnn nn.Transducer
}

func newStandard(cfg Config) (*Standard, error) {
	inputSize := cfg.Embeddings.EmbeddingSize()
	b, err := newBase(cfg, inputSize)
	if err != nil {
		return nil, err
	}
	rnn, err := nn.NewTransducer(nn.RNNConfig{
		Kind:       cfg.CellKind,
		InputSize:  inputSize,
		HiddenSize: cfg.HiddenSize,
		Layers:     cfg.Layers,
		Dropout:    cfg.Dropout,
	})
	if err != nil {
		return nil, err
	}
	return &Standard{base: b, rnn: rnn}, nil
}

// SetTraining toggles dropout in the embeddings, transducer and output.
func (d *Standard) SetTraining(training bool) {
	nn.SetTraining(training, d.embeddings, d.rnn, d.dropout)
}

// Decode implements Decoder.
func (d *Standard) Decode(tgt, memory *tensor.Tensor, state State, memoryLengths []int) (*tensor.Tensor, State, Attentions, error) {
	memoryBatch, err := d.checkDecode(tgt, memory, state)
	if err != nil {
		return nil, State{}, nil, err
	}
	emb, err := d.embeddings.Forward(tgt)
	if err != nil {
		return nil, State{}, nil, err
	}
	rnnOut, final, err := d.rnn.Forward(emb, nil, state.hidden)
	if err != nil {
		return nil, State{}, nil, err
	}
	query, err := tensor.SwapTimeBatch(rnnOut)
	if err != nil {
		return nil, State{}, nil, err
	}
	outputs, align, err := d.attn.Attend(query, memoryBatch, memoryLengths, nil)
	if err != nil {
		return nil, State{}, nil, err
	}
	if d.contextGate != nil {
		if outputs, err = d.contextGate.Forward(emb, rnnOut, outputs); err != nil {
			return nil, State{}, nil, err
		}
	}
	if outputs, err = d.dropout.Forward(outputs); err != nil {
		return nil, State{}, nil, err
	}
	attns := Attentions{AttnStd: align}
	next, err := d.finish(state, final, outputs, attns)
	if err != nil {
		return nil, State{}, nil, err
	}
	d.logger.Debug("standard decode",
		zap.Ints("outputs", outputs.Shape()),
		zap.Ints("attention", align.Shape()))
	return outputs, next, attns, nil
}

// Parameters returns every trainable tensor of the decoder.
func (d *Standard) Parameters() []*tensor.Tensor {
	return append(d.parameters(), d.rnn.Parameters()...)
}

// ZeroGrad clears the gradients of every parameter.
func (d *Standard) ZeroGrad() {
	for _, p := range d.Parameters() {
		p.ZeroGrad()
	}
}
