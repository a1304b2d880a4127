package nn

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// RNNConfig describes a multi-layer, optionally bidirectional transducer.
// HiddenSize is per direction.
type RNNConfig struct {
	Kind          CellKind
	InputSize     int
	HiddenSize    int
	Layers        int
	Bidirectional bool
	Dropout       float64
}

func (c RNNConfig) directions() int {
	if c.Bidirectional {
		return 2
	}
	return 1
}

func (c RNNConfig) validate() error {
	if c.InputSize <= 0 || c.HiddenSize <= 0 || c.Layers <= 0 {
		return errors.Errorf("recurrent sizes must be positive: input=%d hidden=%d layers=%d", c.InputSize, c.HiddenSize, c.Layers)
	}
	return nil
}

// Transducer runs whole [time, batch, input] sequences. The returned output
// is [time, batch, directions*hidden] and the final state has
// layers*directions slices ordered layer0-forward, layer0-backward, ...
type Transducer interface {
	Module
	Forward(input *tensor.Tensor, lengths []int, init State) (*tensor.Tensor, State, error)
	Kind() CellKind
	Layers() int
	Directions() int
	HiddenSize() int
}

// NewTransducer picks the implementation for cfg.Kind.
func NewTransducer(cfg RNNConfig) (Transducer, error) {
	if cfg.Kind == KindSRU {
		return NewSRU(cfg)
	}
	return NewRNN(cfg)
}

// RNN stacks single-step cells over time. Rows shorter than the padded time
// length keep their state past their length and emit zeros there, so padded
// batches behave exactly like packed sequences.
type RNN struct {
	cfg     RNNConfig
	cells   [][]Cell
	dropout *Dropout
}

func NewRNN(cfg RNNConfig) (*RNN, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &RNN{cfg: cfg, dropout: NewDropout(cfg.Dropout)}
	dirs := cfg.directions()
	for layer := 0; layer < cfg.Layers; layer++ {
		in := cfg.InputSize
		if layer > 0 {
			in = cfg.HiddenSize * dirs
		}
		row := make([]Cell, dirs)
		for d := range row {
			cell, err := NewCell(cfg.Kind, in, cfg.HiddenSize, true)
			if err != nil {
				return nil, err
			}
			row[d] = cell
		}
		r.cells = append(r.cells, row)
	}
	return r, nil
}

func (r *RNN) Kind() CellKind   { return r.cfg.Kind }
func (r *RNN) Layers() int      { return r.cfg.Layers }
func (r *RNN) Directions() int  { return r.cfg.directions() }
func (r *RNN) HiddenSize() int  { return r.cfg.HiddenSize }
func (r *RNN) OutputSize() int  { return r.cfg.HiddenSize * r.cfg.directions() }
func (r *RNN) Cell(layer, direction int) Cell { return r.cells[layer][direction] }

func (r *RNN) SetTraining(training bool) { r.dropout.SetTraining(training) }

func (r *RNN) Forward(input *tensor.Tensor, lengths []int, init State) (*tensor.Tensor, State, error) {
	shape := input.Shape()
	if err := check.Dims("rnn input", shape, -1, -1, r.cfg.InputSize); err != nil {
		return nil, State{}, err
	}
	steps, batch := shape[0], shape[1]
	dirs := r.cfg.directions()
	slices := r.cfg.Layers * dirs
	if init.IsZero() {
		init = ZeroState(r.cfg.Kind.Dual(), slices, batch, r.cfg.HiddenSize)
	}
	if init.IsDual() != r.cfg.Kind.Dual() {
		return nil, State{}, errors.Errorf("%s expects dual=%v initial state", r.cfg.Kind, r.cfg.Kind.Dual())
	}
	if err := check.Dims("rnn initial state", init.Shape(), slices, batch, r.cfg.HiddenSize); err != nil {
		return nil, State{}, err
	}
	var masks []*tensor.Tensor
	if lengths != nil {
		if err := check.Lengths(lengths, batch, steps); err != nil {
			return nil, State{}, err
		}
		masks = stepMasks(lengths, steps, r.cfg.HiddenSize)
	}

	layerInput := input
	finals := make([]State, 0, slices)
	for layer := 0; layer < r.cfg.Layers; layer++ {
		frames, err := tensor.Unbind(0, layerInput)
		if err != nil {
			return nil, State{}, err
		}
		outputs := make([]*tensor.Tensor, dirs)
		for d := 0; d < dirs; d++ {
			h0, err := SliceState(init, layer*dirs+d)
			if err != nil {
				return nil, State{}, err
			}
			seq, final, err := runDirection(r.cells[layer][d], frames, masks, h0, d == 1)
			if err != nil {
				return nil, State{}, errors.Wrapf(err, "layer %d direction %d", layer, d)
			}
			outputs[d], err = tensor.Stack(0, seq...)
			if err != nil {
				return nil, State{}, err
			}
			finals = append(finals, final)
		}
		layerOut := outputs[0]
		if dirs == 2 {
			layerOut, err = tensor.Concat(2, outputs...)
			if err != nil {
				return nil, State{}, err
			}
		}
		if layer+1 < r.cfg.Layers {
			layerOut, err = r.dropout.Forward(layerOut)
			if err != nil {
				return nil, State{}, err
			}
		}
		layerInput = layerOut
	}
	final, err := StackStates(finals)
	if err != nil {
		return nil, State{}, err
	}
	return layerInput, final, nil
}

// RunPacked runs a packed batch through t and returns the packed output.
// Transducers that cannot honor lengths see the padded batch instead.
func RunPacked(t Transducer, p *PackedSequence, init State) (*PackedSequence, State, error) {
	lengths := p.Lengths
	if !t.Kind().Packable() {
		lengths = nil
	}
	out, final, err := t.Forward(p.Data, lengths, init)
	if err != nil {
		return nil, State{}, err
	}
	return &PackedSequence{Data: out, Lengths: p.Lengths}, final, nil
}

// runDirection feeds frames through cell, backwards when reverse is set.
// With masks, a row's state only advances while t < length.
func runDirection(cell Cell, frames []*tensor.Tensor, masks []*tensor.Tensor, state State, reverse bool) ([]*tensor.Tensor, State, error) {
	steps := len(frames)
	outputs := make([]*tensor.Tensor, steps)
	for i := 0; i < steps; i++ {
		t := i
		if reverse {
			t = steps - 1 - i
		}
		next, err := cell.Step(frames[t], state)
		if err != nil {
			return nil, State{}, err
		}
		if masks == nil {
			state = next
			outputs[t] = next.Hidden()
			continue
		}
		keep := masks[t]
		hold := tensor.OneMinus(keep)
		state, err = next.Zip(state, func(fresh, prev *tensor.Tensor) (*tensor.Tensor, error) {
			a, err := tensor.Mul(fresh, keep)
			if err != nil {
				return nil, err
			}
			b, err := tensor.Mul(prev, hold)
			if err != nil {
				return nil, err
			}
			return tensor.Add(a, b)
		})
		if err != nil {
			return nil, State{}, err
		}
		outputs[t], err = tensor.Mul(next.Hidden(), keep)
		if err != nil {
			return nil, State{}, err
		}
	}
	return outputs, state, nil
}

// stepMasks returns one [batch, width] tensor per step holding 1 for rows
// still inside their sequence, or nil when every row spans all steps.
func stepMasks(lengths []int, steps, width int) []*tensor.Tensor {
	full := true
	for _, l := range lengths {
		if l != steps {
			full = false
			break
		}
	}
	if full {
		return nil
	}
	batch := len(lengths)
	masks := make([]*tensor.Tensor, steps)
	for t := range masks {
		data := make([]float64, batch*width)
		for b, l := range lengths {
			if t < l {
				for j := 0; j < width; j++ {
					data[b*width+j] = 1
				}
			}
		}
		masks[t] = tensor.MustNew(data, batch, width)
	}
	return masks
}

func (r *RNN) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, row := range r.cells {
		for _, cell := range row {
			params = append(params, cell.Parameters()...)
		}
	}
	return params
}

func (r *RNN) ZeroGrad() { zeroGrad(r.Parameters()) }
