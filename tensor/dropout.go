package tensor

import (
	"github.com/pkg/errors"
)

// Dropout zeroes elements with probability p and rescales the survivors
// during training; outside training it is the identity.
func Dropout(input *Tensor, p float64, training bool) (*Tensor, error) {
	if p < 0 || p >= 1 {
		return nil, errors.Errorf("dropout probability %v must be in [0, 1)", p)
	}
	if !training || p == 0 {
		out := input.Clone()
		unary(out, input, func(grad *Tensor) *Tensor { return grad })
		return out, nil
	}
	scale := 1.0 / (1 - p)
	mask := make([]float64, len(input.data))
	out := Zeros(input.shape...)
	rngLock.Lock()
	for i := range mask {
		if rng.Float64() >= p {
			mask[i] = scale
			out.data[i] = input.data[i] * scale
		}
	}
	rngLock.Unlock()
	unary(out, input, func(grad *Tensor) *Tensor {
		g := Zeros(input.shape...)
		for i := range g.data {
			g.data[i] = grad.data[i] * mask[i]
		}
		return g
	})
	return out, nil
}
