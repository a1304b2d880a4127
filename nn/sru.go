package nn

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

var ErrNoPacking = errors.New("SRU runs whole padded sequences and cannot honor lengths")

// sruDirection holds the projections of one SRU direction. The recurrence is
//
//	c_t = f_t ⊙ c_{t-1} + (1-f_t) ⊙ x̃_t
//	h_t = r_t ⊙ tanh(c_t) + (1-r_t) ⊙ x'_t
//
// where x̃, f and r are computed for every position up front and x' is the
// input itself when widths agree, a fourth projection otherwise.
type sruDirection struct {
	proj    *Linear
	highway bool
}

// SRU is the simple recurrent unit. Only the light elementwise recurrence is
// sequential, so it cannot be stepped one position at a time from outside.
type SRU struct {
	cfg     RNNConfig
	dirs    [][]sruDirection
	dropout *Dropout
}

func NewSRU(cfg RNNConfig) (*SRU, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &SRU{cfg: cfg, dropout: NewDropout(cfg.Dropout)}
	dirs := cfg.directions()
	for layer := 0; layer < cfg.Layers; layer++ {
		in := cfg.InputSize
		if layer > 0 {
			in = cfg.HiddenSize * dirs
		}
		k := 3
		if in != cfg.HiddenSize {
			k = 4
		}
		row := make([]sruDirection, dirs)
		for d := range row {
			row[d] = sruDirection{proj: NewLinear(in, k*cfg.HiddenSize, true), highway: k == 4}
		}
		s.dirs = append(s.dirs, row)
	}
	return s, nil
}

func (s *SRU) Kind() CellKind { return KindSRU }

func (s *SRU) Layers() int { return s.cfg.Layers }

func (s *SRU) Directions() int { return s.cfg.directions() }

func (s *SRU) HiddenSize() int { return s.cfg.HiddenSize }

func (s *SRU) SetTraining(training bool) { s.dropout.SetTraining(training) }

// Forward rejects lengths; callers pass nil and mask the output themselves.
// The final state is single-channel and holds the last cell values.
func (s *SRU) Forward(input *tensor.Tensor, lengths []int, init State) (*tensor.Tensor, State, error) {
	if lengths != nil {
		return nil, State{}, ErrNoPacking
	}
	shape := input.Shape()
	if err := check.Dims("sru input", shape, -1, -1, s.cfg.InputSize); err != nil {
		return nil, State{}, err
	}
	batch := shape[1]
	dirs := s.cfg.directions()
	slices := s.cfg.Layers * dirs
	if init.IsZero() {
		init = ZeroState(false, slices, batch, s.cfg.HiddenSize)
	}
	if init.IsDual() {
		return nil, State{}, errors.New("SRU expects a single-channel initial state")
	}
	if err := check.Dims("sru initial state", init.Shape(), slices, batch, s.cfg.HiddenSize); err != nil {
		return nil, State{}, err
	}

	x := input
	finals := make([]State, 0, slices)
	for layer := range s.dirs {
		outputs := make([]*tensor.Tensor, dirs)
		for d := range s.dirs[layer] {
			c0, err := SliceState(init, layer*dirs+d)
			if err != nil {
				return nil, State{}, err
			}
			out, c, err := s.dirs[layer][d].run(x, c0.Hidden(), s.cfg.HiddenSize, d == 1)
			if err != nil {
				return nil, State{}, errors.Wrapf(err, "sru layer %d direction %d", layer, d)
			}
			outputs[d] = out
			finals = append(finals, Single(c))
		}
		var err error
		x = outputs[0]
		if dirs == 2 {
			if x, err = tensor.Concat(2, outputs...); err != nil {
				return nil, State{}, err
			}
		}
		if layer+1 < s.cfg.Layers {
			if x, err = s.dropout.Forward(x); err != nil {
				return nil, State{}, err
			}
		}
	}
	final, err := StackStates(finals)
	if err != nil {
		return nil, State{}, err
	}
	return x, final, nil
}

func (d sruDirection) run(x, c *tensor.Tensor, hidden int, reverse bool) (*tensor.Tensor, *tensor.Tensor, error) {
	u, err := d.proj.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	k := 3
	if d.highway {
		k = 4
	}
	sizes := make([]int, k)
	for i := range sizes {
		sizes[i] = hidden
	}
	parts, err := tensor.Split(2, sizes, u)
	if err != nil {
		return nil, nil, err
	}
	skip := x
	if d.highway {
		skip = parts[3]
	}
	candidate, err := tensor.Unbind(0, parts[0])
	if err != nil {
		return nil, nil, err
	}
	forget, err := tensor.Unbind(0, tensor.Sigmoid(parts[1]))
	if err != nil {
		return nil, nil, err
	}
	reset, err := tensor.Unbind(0, tensor.Sigmoid(parts[2]))
	if err != nil {
		return nil, nil, err
	}
	skips, err := tensor.Unbind(0, skip)
	if err != nil {
		return nil, nil, err
	}
	steps := len(candidate)
	outputs := make([]*tensor.Tensor, steps)
	for i := 0; i < steps; i++ {
		t := i
		if reverse {
			t = steps - 1 - i
		}
		c, err = blend(forget[t], c, candidate[t])
		if err != nil {
			return nil, nil, err
		}
		outputs[t], err = blend(reset[t], tensor.Tanh(c), skips[t])
		if err != nil {
			return nil, nil, err
		}
	}
	out, err := tensor.Stack(0, outputs...)
	if err != nil {
		return nil, nil, err
	}
	return out, c, nil
}

// blend returns gate ⊙ a + (1-gate) ⊙ b.
func blend(gate, a, b *tensor.Tensor) (*tensor.Tensor, error) {
	left, err := tensor.Mul(gate, a)
	if err != nil {
		return nil, err
	}
	right, err := tensor.Mul(tensor.OneMinus(gate), b)
	if err != nil {
		return nil, err
	}
	return tensor.Add(left, right)
}

func (s *SRU) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, row := range s.dirs {
		for _, d := range row {
			params = append(params, d.proj.Parameters()...)
		}
	}
	return params
}

func (s *SRU) ZeroGrad() { zeroGrad(s.Parameters()) }
