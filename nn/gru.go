package nn

import (
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

const (
	gruGateUpdate = iota
	gruGateReset
	gruGateNew
	gruGateTotal
)

var gruGateNames = []string{"update", "reset", "new"}

type GRUCell struct {
	gateWeights
}

func NewGRUCell(inputSize, hiddenSize int, withBias bool) *GRUCell {
	return &GRUCell{gateWeights: newGateWeights(gruGateTotal, inputSize, hiddenSize, withBias)}
}

func (g *GRUCell) Kind() CellKind  { return KindGRU }
func (g *GRUCell) InputSize() int  { return g.inputSize }
func (g *GRUCell) HiddenSize() int { return g.hiddenSize }

// Step computes
//
//	z = σ(W_z x + U_z h), r = σ(W_r x + U_r h)
//	n = tanh(W_n x + U_n (r ⊙ h)), h' = (1-z) ⊙ n + z ⊙ h
func (g *GRUCell) Step(x *tensor.Tensor, state State) (State, error) {
	if err := g.checkStep(x, state, false); err != nil {
		return State{}, err
	}
	current := state.Hidden()

	zPre, err := g.affine(x, current, gruGateUpdate)
	if err != nil {
		return State{}, err
	}
	z := tensor.Sigmoid(zPre)

	rPre, err := g.affine(x, current, gruGateReset)
	if err != nil {
		return State{}, err
	}
	r := tensor.Sigmoid(rPre)

	rHidden, err := tensor.Mul(r, current)
	if err != nil {
		return State{}, err
	}
	nPre, err := g.affine(x, rHidden, gruGateNew)
	if err != nil {
		return State{}, err
	}
	candidate := tensor.Tanh(nPre)

	part1, err := tensor.Mul(tensor.OneMinus(z), candidate)
	if err != nil {
		return State{}, err
	}
	part2, err := tensor.Mul(z, current)
	if err != nil {
		return State{}, err
	}
	next, err := tensor.Add(part1, part2)
	if err != nil {
		return State{}, err
	}
	return Single(next), nil
}

func (g *GRUCell) Parameters() []*tensor.Tensor { return g.parameters() }

func (g *GRUCell) ZeroGrad() { zeroGrad(g.Parameters()) }

func (g *GRUCell) StateDict(prefix string, state map[string]*tensor.Tensor) {
	g.stateDict(prefix, gruGateNames, state)
}

func (g *GRUCell) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	return g.loadState("GRU", prefix, gruGateNames, state)
}
