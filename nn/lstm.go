package nn

import (
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

const (
	lstmGateInput = iota
	lstmGateForget
	lstmGateCell
	lstmGateOutput
	lstmGateTotal
)

var lstmGateNames = []string{"input", "forget", "cell", "output"}

type LSTMCell struct {
	gateWeights
}

func NewLSTMCell(inputSize, hiddenSize int, withBias bool) *LSTMCell {
	return &LSTMCell{gateWeights: newGateWeights(lstmGateTotal, inputSize, hiddenSize, withBias)}
}

func (l *LSTMCell) Kind() CellKind  { return KindLSTM }
func (l *LSTMCell) InputSize() int  { return l.inputSize }
func (l *LSTMCell) HiddenSize() int { return l.hiddenSize }

func (l *LSTMCell) Step(x *tensor.Tensor, state State) (State, error) {
	if err := l.checkStep(x, state, true); err != nil {
		return State{}, err
	}
	currentH, currentC := state.Hidden(), state.Cell()

	iPre, err := l.affine(x, currentH, lstmGateInput)
	if err != nil {
		return State{}, err
	}
	inputGate := tensor.Sigmoid(iPre)

	fPre, err := l.affine(x, currentH, lstmGateForget)
	if err != nil {
		return State{}, err
	}
	forgetGate := tensor.Sigmoid(fPre)

	gPre, err := l.affine(x, currentH, lstmGateCell)
	if err != nil {
		return State{}, err
	}
	cellCandidate := tensor.Tanh(gPre)

	oPre, err := l.affine(x, currentH, lstmGateOutput)
	if err != nil {
		return State{}, err
	}
	outputGate := tensor.Sigmoid(oPre)

	kept, err := tensor.Mul(forgetGate, currentC)
	if err != nil {
		return State{}, err
	}
	written, err := tensor.Mul(inputGate, cellCandidate)
	if err != nil {
		return State{}, err
	}
	nextC, err := tensor.Add(kept, written)
	if err != nil {
		return State{}, err
	}
	nextH, err := tensor.Mul(outputGate, tensor.Tanh(nextC))
	if err != nil {
		return State{}, err
	}
	return Dual(nextH, nextC), nil
}

func (l *LSTMCell) Parameters() []*tensor.Tensor { return l.parameters() }

func (l *LSTMCell) ZeroGrad() { zeroGrad(l.Parameters()) }

func (l *LSTMCell) StateDict(prefix string, state map[string]*tensor.Tensor) {
	l.stateDict(prefix, lstmGateNames, state)
}

func (l *LSTMCell) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	return l.loadState("LSTM", prefix, lstmGateNames, state)
}
