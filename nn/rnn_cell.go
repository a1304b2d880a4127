package nn

import (
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

var rnnGateNames = []string{"hidden"}

// RNNCell is the Elman cell h' = tanh(W x + b_ih + U h + b_hh).
type RNNCell struct {
	gateWeights
}

func NewRNNCell(inputSize, hiddenSize int, withBias bool) *RNNCell {
	return &RNNCell{gateWeights: newGateWeights(1, inputSize, hiddenSize, withBias)}
}

func (r *RNNCell) Kind() CellKind  { return KindRNN }
func (r *RNNCell) InputSize() int  { return r.inputSize }
func (r *RNNCell) HiddenSize() int { return r.hiddenSize }

func (r *RNNCell) Step(x *tensor.Tensor, state State) (State, error) {
	if err := r.checkStep(x, state, false); err != nil {
		return State{}, err
	}
	summed, err := r.affine(x, state.Hidden(), 0)
	if err != nil {
		return State{}, err
	}
	return Single(tensor.Tanh(summed)), nil
}

func (r *RNNCell) Parameters() []*tensor.Tensor { return r.parameters() }

func (r *RNNCell) ZeroGrad() { zeroGrad(r.Parameters()) }

func (r *RNNCell) StateDict(prefix string, state map[string]*tensor.Tensor) {
	r.stateDict(prefix, rnnGateNames, state)
}

func (r *RNNCell) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	return r.loadState("RNN", prefix, rnnGateNames, state)
}
