package optim

import (
	"math"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// Adadelta keeps running averages of squared gradients and squared updates;
// lr scales the resulting step.
type Adadelta struct {
	params    []*tensor.Tensor
	rho       float64
	eps       float64
	lr        float64
	squareAvg slots
	deltaAvg  slots
}

func NewAdadelta(params []*tensor.Tensor, lr, rho, eps float64) *Adadelta {
	if rho <= 0 || rho >= 1 {
		rho = 0.9
	}
	if eps <= 0 {
		eps = 1e-6
	}
	if lr <= 0 {
		lr = 1.0
	}
	return &Adadelta{params: params, rho: rho, eps: eps, lr: lr, squareAvg: slots{}, deltaAvg: slots{}}
}

func (o *Adadelta) Step() error {
	for _, p := range o.params {
		grad := gradOf(p)
		if grad == nil {
			continue
		}
		sq := o.squareAvg.get(p, len(grad), 0)
		delta := o.deltaAvg.get(p, len(grad), 0)
		update := make([]float64, len(grad))
		for i, g := range grad {
			sq[i] = o.rho*sq[i] + (1-o.rho)*g*g
			step := math.Sqrt(delta[i]+o.eps) / math.Sqrt(sq[i]+o.eps) * g
			delta[i] = o.rho*delta[i] + (1-o.rho)*step*step
			update[i] = step
		}
		if err := apply(p, update, -o.lr); err != nil {
			return err
		}
	}
	return nil
}

func (o *Adadelta) ZeroGrad() { zeroGrad(o.params) }

func (o *Adadelta) SetLR(lr float64) { o.lr = lr }
