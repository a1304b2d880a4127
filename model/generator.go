package model

import (
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// Generator maps decoder outputs [..., hidden] to log-probabilities over the
// target vocabulary.
type Generator struct {
	seq *nn.Sequential
}

func NewGenerator(hidden, vocab int) *Generator {
	return &Generator{seq: nn.NewSequential(nn.NewLinear(hidden, vocab, true), nn.LogSoftmax())}
}

func (g *Generator) Forward(outputs *tensor.Tensor) (*tensor.Tensor, error) {
	return g.seq.Forward(outputs)
}

func (g *Generator) Parameters() []*tensor.Tensor {
	if g == nil {
		return nil
	}
	return g.seq.Parameters()
}

func (g *Generator) ZeroGrad() {
	if g != nil {
		g.seq.ZeroGrad()
	}
}

func (g *Generator) StateDict(prefix string, state map[string]*tensor.Tensor) {
	g.seq.StateDict(prefix, state)
}

func (g *Generator) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	return g.seq.LoadState(prefix, state)
}
