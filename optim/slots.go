package optim

import "github.com/fumitoshi0524/ixeoriNMT/tensor"

// slots keeps one flat accumulator per parameter.
type slots map[*tensor.Tensor][]float64

func (s slots) get(p *tensor.Tensor, n int, init float64) []float64 {
	v, ok := s[p]
	if !ok {
		v = make([]float64, n)
		if init != 0 {
			for i := range v {
				v[i] = init
			}
		}
		s[p] = v
	}
	return v
}

// gradOf returns the flat gradient of p, or nil when p has none.
func gradOf(p *tensor.Tensor) []float64 {
	if p == nil {
		return nil
	}
	g := p.Grad()
	if g == nil {
		return nil
	}
	return g.Data()
}

// apply adds alpha*update to p without recording a graph.
func apply(p *tensor.Tensor, update []float64, alpha float64) error {
	u, err := tensor.New(update, p.Shape()...)
	if err != nil {
		return err
	}
	return p.AddScaled(u, alpha)
}

func zeroGrad(params []*tensor.Tensor) {
	for _, p := range params {
		if p != nil {
			p.ZeroGrad()
		}
	}
}
