package optim

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// RMSProp divides each gradient by a running root mean square, with optional
// L2 weight decay and momentum.
type RMSProp struct {
	params      []*tensor.Tensor
	lr          float64
	alpha       float64
	eps         float64
	weightDecay float64
	momentum    float64
	squareAvg   slots
	buffer      slots
}

func NewRMSProp(params []*tensor.Tensor, lr, alpha, eps, weightDecay, momentum float64) *RMSProp {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.99
	}
	if eps <= 0 {
		eps = 1e-8
	}
	return &RMSProp{
		params:      params,
		lr:          lr,
		alpha:       alpha,
		eps:         eps,
		weightDecay: weightDecay,
		momentum:    momentum,
		squareAvg:   slots{},
		buffer:      slots{},
	}
}

func (o *RMSProp) Step() error {
	for _, p := range o.params {
		grad := gradOf(p)
		if grad == nil {
			continue
		}
		if o.weightDecay > 0 {
			floats.AddScaled(grad, o.weightDecay, p.Data())
		}
		sq := o.squareAvg.get(p, len(grad), 0)
		update := make([]float64, len(grad))
		for i, g := range grad {
			sq[i] = o.alpha*sq[i] + (1-o.alpha)*g*g
			update[i] = g / (math.Sqrt(sq[i]) + o.eps)
		}
		if o.momentum > 0 {
			buf := o.buffer.get(p, len(grad), 0)
			floats.Scale(o.momentum, buf)
			floats.Add(buf, update)
			update = buf
		}
		if err := apply(p, update, -o.lr); err != nil {
			return err
		}
	}
	return nil
}

func (o *RMSProp) ZeroGrad() { zeroGrad(o.params) }

func (o *RMSProp) SetLR(lr float64) { o.lr = lr }
