package optim

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// Adagrad scales each coordinate by the root of its summed squared
// gradients. Accumulators start at initAccumulator.
type Adagrad struct {
	params     []*tensor.Tensor
	lr         float64
	eps        float64
	init       float64
	sumSquares slots
}

func NewAdagrad(params []*tensor.Tensor, lr, initAccumulator, eps float64) *Adagrad {
	if eps <= 0 {
		eps = 1e-10
	}
	return &Adagrad{params: params, lr: lr, eps: eps, init: initAccumulator, sumSquares: slots{}}
}

func (o *Adagrad) Step() error {
	for _, p := range o.params {
		grad := gradOf(p)
		if grad == nil {
			continue
		}
		sum := o.sumSquares.get(p, len(grad), o.init)
		update := make([]float64, len(grad))
		for i, g := range grad {
			sum[i] += g * g
			update[i] = math.Sqrt(sum[i]) + o.eps
		}
		floats.DivTo(update, grad, update)
		if err := apply(p, update, -o.lr); err != nil {
			return err
		}
	}
	return nil
}

func (o *Adagrad) ZeroGrad() { zeroGrad(o.params) }

func (o *Adagrad) SetLR(lr float64) { o.lr = lr }
