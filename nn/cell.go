package nn

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// CellKind names a recurrent cell family.
type CellKind string

const (
	KindRNN  CellKind = "RNN"
	KindLSTM CellKind = "LSTM"
	KindGRU  CellKind = "GRU"
	KindSRU  CellKind = "SRU"
)

var ErrUnsupportedKind = errors.New("unsupported recurrent cell kind")

func ParseCellKind(s string) (CellKind, error) {
	switch k := CellKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindRNN, KindLSTM, KindGRU, KindSRU:
		return k, nil
	}
	return "", errors.Wrapf(ErrUnsupportedKind, "%q", s)
}

// Dual reports whether the kind carries a hidden/cell pair.
func (k CellKind) Dual() bool { return k == KindLSTM }

// Steppable reports whether the kind can run one position at a time.
func (k CellKind) Steppable() bool { return k != KindSRU }

// Packable reports whether the kind honors per-row sequence lengths.
func (k CellKind) Packable() bool { return k != KindSRU }

// Cell advances a recurrent state by one position. x is [batch, input] and
// every state channel is [batch, hidden].
type Cell interface {
	Module
	Step(x *tensor.Tensor, state State) (State, error)
	Kind() CellKind
	InputSize() int
	HiddenSize() int
}

// NewCell builds a single-step cell. SRU has no single-step form.
func NewCell(kind CellKind, inputSize, hiddenSize int, withBias bool) (Cell, error) {
	switch kind {
	case KindRNN:
		return NewRNNCell(inputSize, hiddenSize, withBias), nil
	case KindLSTM:
		return NewLSTMCell(inputSize, hiddenSize, withBias), nil
	case KindGRU:
		return NewGRUCell(inputSize, hiddenSize, withBias), nil
	}
	return nil, errors.Wrapf(ErrUnsupportedKind, "%s has no single-step cell", kind)
}

// gateWeights holds one input and one recurrent projection per gate.
type gateWeights struct {
	inputSize  int
	hiddenSize int
	withBias   bool
	weightIH   []*tensor.Tensor
	weightHH   []*tensor.Tensor
	biasIH     []*tensor.Tensor
	biasHH     []*tensor.Tensor
}

func newGateWeights(gates, inputSize, hiddenSize int, withBias bool) gateWeights {
	g := gateWeights{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		withBias:   withBias,
		weightIH:   make([]*tensor.Tensor, gates),
		weightHH:   make([]*tensor.Tensor, gates),
	}
	if withBias {
		g.biasIH = make([]*tensor.Tensor, gates)
		g.biasHH = make([]*tensor.Tensor, gates)
	}
	inScale := math.Sqrt(1.0 / float64(inputSize))
	hidScale := math.Sqrt(1.0 / float64(hiddenSize))
	for gate := 0; gate < gates; gate++ {
		wIn := tensor.Randn(hiddenSize, inputSize)
		wHidden := tensor.Randn(hiddenSize, hiddenSize)
		wIn.Scale(inScale)
		wHidden.Scale(hidScale)
		wIn.SetRequiresGrad(true)
		wHidden.SetRequiresGrad(true)
		g.weightIH[gate] = wIn
		g.weightHH[gate] = wHidden
		if withBias {
			bIn := tensor.Zeros(hiddenSize)
			bHidden := tensor.Zeros(hiddenSize)
			bIn.SetRequiresGrad(true)
			bHidden.SetRequiresGrad(true)
			g.biasIH[gate] = bIn
			g.biasHH[gate] = bHidden
		}
	}
	return g
}

func (g *gateWeights) inputPart(x *tensor.Tensor, gate int) (*tensor.Tensor, error) {
	out, err := tensor.MatMul(x, g.weightIH[gate].MustTranspose())
	if err != nil {
		return nil, err
	}
	if g.withBias {
		return tensor.AddBias2D(out, g.biasIH[gate])
	}
	return out, nil
}

func (g *gateWeights) hiddenPart(h *tensor.Tensor, gate int) (*tensor.Tensor, error) {
	out, err := tensor.MatMul(h, g.weightHH[gate].MustTranspose())
	if err != nil {
		return nil, err
	}
	if g.withBias {
		return tensor.AddBias2D(out, g.biasHH[gate])
	}
	return out, nil
}

// affine computes x W_ih[gate]ᵀ + b_ih + h W_hh[gate]ᵀ + b_hh.
func (g *gateWeights) affine(x, h *tensor.Tensor, gate int) (*tensor.Tensor, error) {
	in, err := g.inputPart(x, gate)
	if err != nil {
		return nil, err
	}
	hid, err := g.hiddenPart(h, gate)
	if err != nil {
		return nil, err
	}
	return tensor.Add(in, hid)
}

func (g *gateWeights) checkStep(x *tensor.Tensor, state State, dual bool) error {
	xs := x.Shape()
	if len(xs) != 2 || xs[1] != g.inputSize {
		return errors.Wrapf(tensor.ErrShape, "cell expects input [batch, %d], got %v", g.inputSize, xs)
	}
	if state.IsDual() != dual {
		return errors.Errorf("cell expects dual=%v state", dual)
	}
	for _, ch := range state.Channels() {
		if !tensor.SameShape(ch.Shape(), []int{xs[0], g.hiddenSize}) {
			return errors.Wrapf(tensor.ErrShape, "state %v does not match [%d, %d]", ch.Shape(), xs[0], g.hiddenSize)
		}
	}
	return nil
}

func (g *gateWeights) parameters() []*tensor.Tensor {
	params := make([]*tensor.Tensor, 0, len(g.weightIH)*4)
	for gate := range g.weightIH {
		params = append(params, g.weightIH[gate], g.weightHH[gate])
		if g.withBias {
			params = append(params, g.biasIH[gate], g.biasHH[gate])
		}
	}
	return params
}

func (g *gateWeights) stateDict(prefix string, names []string, state map[string]*tensor.Tensor) {
	if state == nil {
		return
	}
	for gate, name := range names {
		state[joinPrefix(prefix, "weight_ih_"+name)] = g.weightIH[gate].Clone()
		state[joinPrefix(prefix, "weight_hh_"+name)] = g.weightHH[gate].Clone()
		if g.withBias {
			state[joinPrefix(prefix, "bias_ih_"+name)] = g.biasIH[gate].Clone()
			state[joinPrefix(prefix, "bias_hh_"+name)] = g.biasHH[gate].Clone()
		}
	}
}

func (g *gateWeights) loadState(kind, prefix string, names []string, state map[string]*tensor.Tensor) error {
	if state == nil {
		return errors.New("state dict is nil")
	}
	for gate, name := range names {
		if err := loadInto(kind, g.weightIH[gate], joinPrefix(prefix, "weight_ih_"+name), state); err != nil {
			return err
		}
		if err := loadInto(kind, g.weightHH[gate], joinPrefix(prefix, "weight_hh_"+name), state); err != nil {
			return err
		}
		if g.withBias {
			if err := loadInto(kind, g.biasIH[gate], joinPrefix(prefix, "bias_ih_"+name), state); err != nil {
				return err
			}
			if err := loadInto(kind, g.biasHH[gate], joinPrefix(prefix, "bias_hh_"+name), state); err != nil {
				return err
			}
		}
	}
	return nil
}
