package nn

import (
	"math"

	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// Linear applies y = x Wᵀ + b over the last axis of an input of any rank >= 1.
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *tensor.Tensor
	bias        *tensor.Tensor
}

func NewLinear(inFeatures, outFeatures int, withBias bool) *Linear {
	w := tensor.Randn(outFeatures, inFeatures)
	scale := math.Sqrt(2.0 / float64(inFeatures+outFeatures))
	w.Scale(scale)
	w.SetRequiresGrad(true)
	var b *tensor.Tensor
	if withBias {
		b = tensor.Randn(outFeatures)
		b.Scale(scale)
		b.SetRequiresGrad(true)
	}
	return &Linear{inFeatures: inFeatures, outFeatures: outFeatures, weight: w, bias: b}
}

func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	shape := input.Shape()
	if shape[len(shape)-1] != l.inFeatures {
		return nil, errors.Wrapf(tensor.ErrShape, "Linear(%d->%d) got input %v", l.inFeatures, l.outFeatures, shape)
	}
	x, err := input.Reshape(-1, l.inFeatures)
	if err != nil {
		return nil, err
	}
	output, err := tensor.MatMul(x, l.weight.MustTranspose())
	if err != nil {
		return nil, err
	}
	if l.bias != nil {
		output, err = tensor.AddBias2D(output, l.bias)
		if err != nil {
			return nil, err
		}
	}
	outShape := append(shape[:len(shape)-1:len(shape)-1], l.outFeatures)
	return output.Reshape(outShape...)
}

func (l *Linear) InFeatures() int  { return l.inFeatures }
func (l *Linear) OutFeatures() int { return l.outFeatures }

func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) ZeroGrad() {
	zeroGrad(l.Parameters())
}

func (l *Linear) Weight() *tensor.Tensor {
	return l.weight
}

func (l *Linear) Bias() *tensor.Tensor {
	return l.bias
}

func (l *Linear) StateDict(prefix string, state map[string]*tensor.Tensor) {
	if state == nil {
		return
	}
	state[joinPrefix(prefix, "weight")] = l.weight.Clone()
	if l.bias != nil {
		state[joinPrefix(prefix, "bias")] = l.bias.Clone()
	}
}

func (l *Linear) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	if state == nil {
		return errors.New("state dict is nil")
	}
	if err := loadInto("Linear", l.weight, joinPrefix(prefix, "weight"), state); err != nil {
		return err
	}
	if l.bias != nil {
		return loadInto("Linear", l.bias, joinPrefix(prefix, "bias"), state)
	}
	return nil
}
