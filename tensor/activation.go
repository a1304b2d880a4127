package tensor

import (
	"math"
)

func Relu(a *Tensor) *Tensor {
	out := mapValues(a, func(v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	})
	unary(out, a, func(grad *Tensor) *Tensor {
		return hadamard(grad, mapValues(a, func(v float64) float64 {
			if v > 0 {
				return 1
			}
			return 0
		}))
	})
	return out
}

func Sigmoid(a *Tensor) *Tensor {
	out := mapValues(a, func(v float64) float64 { return 1 / (1 + math.Exp(-v)) })
	unary(out, a, func(grad *Tensor) *Tensor {
		return hadamard(grad, mapValues(out, func(s float64) float64 { return s * (1 - s) }))
	})
	return out
}

func Tanh(a *Tensor) *Tensor {
	out := mapValues(a, math.Tanh)
	unary(out, a, func(grad *Tensor) *Tensor {
		return hadamard(grad, mapValues(out, func(y float64) float64 { return 1 - y*y }))
	})
	return out
}
