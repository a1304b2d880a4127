package optim

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// AdamW is Adam with weight decay applied to the parameters directly instead
// of through the gradient.
type AdamW struct {
	params      []*tensor.Tensor
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	m           slots
	v           slots
	step        int
}

func NewAdamW(params []*tensor.Tensor, lr, beta1, beta2, eps, weightDecay float64) *AdamW {
	return &AdamW{
		params:      params,
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		eps:         eps,
		weightDecay: weightDecay,
		m:           slots{},
		v:           slots{},
	}
}

func (o *AdamW) Step() error {
	o.step++
	corr1 := 1 - math.Pow(o.beta1, float64(o.step))
	corr2 := 1 - math.Pow(o.beta2, float64(o.step))
	for _, p := range o.params {
		grad := gradOf(p)
		if grad == nil {
			continue
		}
		m := o.m.get(p, len(grad), 0)
		v := o.v.get(p, len(grad), 0)
		floats.Scale(o.beta1, m)
		floats.AddScaled(m, 1-o.beta1, grad)
		update := make([]float64, len(grad))
		for i, g := range grad {
			v[i] = o.beta2*v[i] + (1-o.beta2)*g*g
			update[i] = (m[i] / corr1) / (math.Sqrt(v[i]/corr2) + o.eps)
		}
		if o.weightDecay > 0 {
			floats.AddScaled(update, o.weightDecay, p.Data())
		}
		if err := apply(p, update, -o.lr); err != nil {
			return err
		}
	}
	return nil
}

func (o *AdamW) ZeroGrad() { zeroGrad(o.params) }

func (o *AdamW) SetLR(lr float64) { o.lr = lr }
