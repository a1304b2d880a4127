package tensor

func AddScalar(a *Tensor, value float64) *Tensor {
	out := mapValues(a, func(v float64) float64 { return v + value })
	unary(out, a, func(grad *Tensor) *Tensor {
		return grad
	})
	return out
}

func MulScalar(a *Tensor, value float64) *Tensor {
	out := mapValues(a, func(v float64) float64 { return v * value })
	unary(out, a, func(grad *Tensor) *Tensor {
		scaled := grad.Clone()
		scaled.Scale(value)
		return scaled
	})
	return out
}
