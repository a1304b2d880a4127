package nn

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// State is the recurrent state of a cell or transducer: either a single
// hidden tensor or a hidden/cell pair. Every channel has the same shape.
type State struct {
	h *tensor.Tensor
	c *tensor.Tensor
}

// Single wraps a one-channel state.
func Single(h *tensor.Tensor) State { return State{h: h} }

// Dual wraps a hidden/cell pair.
func Dual(h, c *tensor.Tensor) State { return State{h: h, c: c} }

func (s State) IsZero() bool { return s.h == nil }

func (s State) IsDual() bool { return s.c != nil }

// Hidden is the first channel.
func (s State) Hidden() *tensor.Tensor { return s.h }

// Cell is the second channel, nil for single-channel states.
func (s State) Cell() *tensor.Tensor { return s.c }

func (s State) Channels() []*tensor.Tensor {
	if s.h == nil {
		return nil
	}
	if s.c == nil {
		return []*tensor.Tensor{s.h}
	}
	return []*tensor.Tensor{s.h, s.c}
}

// Shape of the hidden channel.
func (s State) Shape() []int {
	if s.h == nil {
		return nil
	}
	return s.h.Shape()
}

// FromChannels rebuilds a state from one or two tensors.
func FromChannels(channels []*tensor.Tensor) (State, error) {
	switch len(channels) {
	case 1:
		return Single(channels[0]), nil
	case 2:
		return Dual(channels[0], channels[1]), nil
	}
	return State{}, errors.Errorf("state needs 1 or 2 channels, got %d", len(channels))
}

// Map applies fn to every channel.
func (s State) Map(fn func(*tensor.Tensor) (*tensor.Tensor, error)) (State, error) {
	channels := s.Channels()
	out := make([]*tensor.Tensor, len(channels))
	for i, ch := range channels {
		v, err := fn(ch)
		if err != nil {
			return State{}, err
		}
		out[i] = v
	}
	return FromChannels(out)
}

// MapIndexed is Map with the channel index passed along.
func (s State) MapIndexed(fn func(int, *tensor.Tensor) (*tensor.Tensor, error)) (State, error) {
	channels := s.Channels()
	out := make([]*tensor.Tensor, len(channels))
	for i, ch := range channels {
		v, err := fn(i, ch)
		if err != nil {
			return State{}, err
		}
		out[i] = v
	}
	return FromChannels(out)
}

// Zip combines matching channels of two states of the same variant.
func (s State) Zip(other State, fn func(a, b *tensor.Tensor) (*tensor.Tensor, error)) (State, error) {
	if s.IsDual() != other.IsDual() {
		return State{}, errors.New("cannot zip single and dual states")
	}
	left, right := s.Channels(), other.Channels()
	out := make([]*tensor.Tensor, len(left))
	for i := range left {
		v, err := fn(left[i], right[i])
		if err != nil {
			return State{}, err
		}
		out[i] = v
	}
	return FromChannels(out)
}

// Detach drops autograd history from every channel.
func (s State) Detach() State {
	st, _ := s.Map(func(t *tensor.Tensor) (*tensor.Tensor, error) { return t.Detach(), nil })
	return st
}

// ZeroState returns zeros of the given shape with one or two channels.
func ZeroState(dual bool, shape ...int) State {
	if dual {
		return Dual(tensor.Zeros(shape...), tensor.Zeros(shape...))
	}
	return Single(tensor.Zeros(shape...))
}

// StackStates stacks per-slice states along a new leading axis.
func StackStates(states []State) (State, error) {
	if len(states) == 0 {
		return State{}, errors.New("no states to stack")
	}
	n := len(states[0].Channels())
	out := make([]*tensor.Tensor, n)
	for ch := 0; ch < n; ch++ {
		parts := make([]*tensor.Tensor, len(states))
		for i, s := range states {
			if len(s.Channels()) != n {
				return State{}, errors.New("cannot stack single and dual states")
			}
			parts[i] = s.Channels()[ch]
		}
		stacked, err := tensor.Stack(0, parts...)
		if err != nil {
			return State{}, err
		}
		out[ch] = stacked
	}
	return FromChannels(out)
}

// SliceState picks slice i of the leading axis of every channel.
func SliceState(s State, i int) (State, error) {
	return s.Map(func(t *tensor.Tensor) (*tensor.Tensor, error) {
		part, err := tensor.Narrow(t, 0, i, 1)
		if err != nil {
			return nil, err
		}
		return tensor.Squeeze(part, 0)
	})
}
