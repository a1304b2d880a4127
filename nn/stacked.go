package nn

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// StackedCell runs one position through a stack of cells, applying dropout
// between layers. Its state has one [batch, hidden] slice per layer.
type StackedCell struct {
	kind    CellKind
	hidden  int
	layers  []Cell
	dropout *Dropout
}

func NewStackedCell(kind CellKind, layers, inputSize, hiddenSize int, dropout float64) (*StackedCell, error) {
	if !kind.Steppable() {
		return nil, errors.Wrapf(ErrUnsupportedKind, "%s cannot be stacked step by step", kind)
	}
	if layers <= 0 {
		return nil, errors.Errorf("stacked cell needs at least one layer, got %d", layers)
	}
	s := &StackedCell{kind: kind, hidden: hiddenSize, dropout: NewDropout(dropout)}
	in := inputSize
	for i := 0; i < layers; i++ {
		cell, err := NewCell(kind, in, hiddenSize, true)
		if err != nil {
			return nil, err
		}
		s.layers = append(s.layers, cell)
		in = hiddenSize
	}
	return s, nil
}

func (s *StackedCell) Kind() CellKind { return s.kind }

func (s *StackedCell) Layers() int { return len(s.layers) }

func (s *StackedCell) HiddenSize() int { return s.hidden }

func (s *StackedCell) SetTraining(training bool) { s.dropout.SetTraining(training) }

// Step advances every layer once. It returns the top layer's hidden output
// and the new [layers, batch, hidden] state.
func (s *StackedCell) Step(x *tensor.Tensor, state State) (*tensor.Tensor, State, error) {
	if err := check.Dims("stacked state", state.Shape(), len(s.layers), x.Dim(0), s.hidden); err != nil {
		return nil, State{}, err
	}
	input := x
	next := make([]State, len(s.layers))
	for i, cell := range s.layers {
		prev, err := SliceState(state, i)
		if err != nil {
			return nil, State{}, err
		}
		next[i], err = cell.Step(input, prev)
		if err != nil {
			return nil, State{}, errors.Wrapf(err, "stacked layer %d", i)
		}
		input = next[i].Hidden()
		if i+1 < len(s.layers) {
			if input, err = s.dropout.Forward(input); err != nil {
				return nil, State{}, err
			}
		}
	}
	stacked, err := StackStates(next)
	if err != nil {
		return nil, State{}, err
	}
	return input, stacked, nil
}

func (s *StackedCell) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, cell := range s.layers {
		params = append(params, cell.Parameters()...)
	}
	return params
}

func (s *StackedCell) ZeroGrad() { zeroGrad(s.Parameters()) }
