package optim

import (
	"gonum.org/v1/gonum/floats"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// SGD is plain gradient descent with optional heavy-ball momentum.
type SGD struct {
	params   []*tensor.Tensor
	lr       float64
	momentum float64
	velocity slots
}

func NewSGD(params []*tensor.Tensor, lr float64, momentum float64) *SGD {
	return &SGD{params: params, lr: lr, momentum: momentum, velocity: slots{}}
}

func (o *SGD) SetLR(lr float64) { o.lr = lr }

func (o *SGD) Step() error {
	for _, p := range o.params {
		grad := gradOf(p)
		if grad == nil {
			continue
		}
		if o.momentum > 0 {
			v := o.velocity.get(p, len(grad), 0)
			floats.Scale(o.momentum, v)
			floats.Add(v, grad)
			grad = v
		}
		if err := apply(p, grad, -o.lr); err != nil {
			return err
		}
	}
	return nil
}

func (o *SGD) ZeroGrad() { zeroGrad(o.params) }
