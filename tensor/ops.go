package tensor

import (
	"math"

	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/parallel"
)

func Add(a, b *Tensor) (*Tensor, error) {
	if err := ensureSameShape(a, b); err != nil {
		return nil, errors.Wrap(err, "Add")
	}
	out := Zeros(a.shape...)
	parallel.ForGrain(len(out.data), parallel.ElementGrain, func(start, end int) {
		for i := start; i < end; i++ {
			out.data[i] = a.data[i] + b.data[i]
		}
	})
	attachBinaryGrad(out, a, b, func(grad *Tensor, grads map[*Tensor]*Tensor, left, right *Tensor) {
		if left.requiresGrad {
			accumulate(grads, left, grad)
		}
		if right.requiresGrad {
			accumulate(grads, right, grad)
		}
	})
	return out, nil
}

func Sub(a, b *Tensor) (*Tensor, error) {
	if err := ensureSameShape(a, b); err != nil {
		return nil, errors.Wrap(err, "Sub")
	}
	out := Zeros(a.shape...)
	parallel.ForGrain(len(out.data), parallel.ElementGrain, func(start, end int) {
		for i := start; i < end; i++ {
			out.data[i] = a.data[i] - b.data[i]
		}
	})
	attachBinaryGrad(out, a, b, func(grad *Tensor, grads map[*Tensor]*Tensor, left, right *Tensor) {
		if left.requiresGrad {
			accumulate(grads, left, grad)
		}
		if right.requiresGrad {
			neg := grad.Clone()
			neg.Scale(-1)
			accumulate(grads, right, neg)
		}
	})
	return out, nil
}

func Mul(a, b *Tensor) (*Tensor, error) {
	if err := ensureSameShape(a, b); err != nil {
		return nil, errors.Wrap(err, "Mul")
	}
	out := Zeros(a.shape...)
	parallel.ForGrain(len(out.data), parallel.ElementGrain, func(start, end int) {
		for i := start; i < end; i++ {
			out.data[i] = a.data[i] * b.data[i]
		}
	})
	attachBinaryGrad(out, a, b, func(grad *Tensor, grads map[*Tensor]*Tensor, left, right *Tensor) {
		if left.requiresGrad {
			accumulate(grads, left, hadamard(grad, right))
		}
		if right.requiresGrad {
			accumulate(grads, right, hadamard(grad, left))
		}
	})
	return out, nil
}

func Div(a, b *Tensor) (*Tensor, error) {
	if err := ensureSameShape(a, b); err != nil {
		return nil, errors.Wrap(err, "Div")
	}
	out := Zeros(a.shape...)
	parallel.ForGrain(len(out.data), parallel.ElementGrain, func(start, end int) {
		for i := start; i < end; i++ {
			out.data[i] = a.data[i] / b.data[i]
		}
	})
	attachBinaryGrad(out, a, b, func(grad *Tensor, grads map[*Tensor]*Tensor, left, right *Tensor) {
		if left.requiresGrad {
			accumulate(grads, left, hadamard(grad, reciprocal(right)))
		}
		if right.requiresGrad {
			numerator := hadamard(grad, left)
			parallel.ForGrain(len(numerator.data), parallel.ElementGrain, func(start, end int) {
				for i := start; i < end; i++ {
					numerator.data[i] = -numerator.data[i] / (right.data[i] * right.data[i])
				}
			})
			accumulate(grads, right, numerator)
		}
	})
	return out, nil
}

func Pow(a *Tensor, value float64) *Tensor {
	out := mapValues(a, func(v float64) float64 { return math.Pow(v, value) })
	unary(out, a, func(grad *Tensor) *Tensor {
		return hadamard(grad, mapValues(a, func(v float64) float64 {
			return value * math.Pow(v, value-1)
		}))
	})
	return out
}

func Exp(a *Tensor) *Tensor {
	out := mapValues(a, math.Exp)
	unary(out, a, func(grad *Tensor) *Tensor {
		return hadamard(grad, out)
	})
	return out
}

func Log(a *Tensor) *Tensor {
	out := mapValues(a, math.Log)
	unary(out, a, func(grad *Tensor) *Tensor {
		return hadamard(grad, reciprocal(a))
	})
	return out
}

func Sum(a *Tensor) *Tensor {
	val := 0.0
	for _, v := range a.data {
		val += v
	}
	out := MustNew([]float64{val}, 1)
	unary(out, a, func(grad *Tensor) *Tensor {
		return Full(grad.data[0], a.shape...)
	})
	return out
}

func Mean(a *Tensor) *Tensor {
	scale := 1.0 / float64(a.Numel())
	val := 0.0
	for _, v := range a.data {
		val += v
	}
	out := MustNew([]float64{val * scale}, 1)
	unary(out, a, func(grad *Tensor) *Tensor {
		return Full(grad.data[0]*scale, a.shape...)
	})
	return out
}

// OneMinus returns 1 - a, the complement used by gating units.
func OneMinus(a *Tensor) *Tensor {
	out := mapValues(a, func(v float64) float64 { return 1 - v })
	unary(out, a, func(grad *Tensor) *Tensor {
		neg := grad.Clone()
		neg.Scale(-1)
		return neg
	})
	return out
}

func mapValues(a *Tensor, fn func(float64) float64) *Tensor {
	out := Zeros(a.shape...)
	parallel.ForGrain(len(out.data), parallel.ElementGrain, func(start, end int) {
		for i := start; i < end; i++ {
			out.data[i] = fn(a.data[i])
		}
	})
	return out
}

func hadamard(a, b *Tensor) *Tensor {
	if err := ensureSameShape(a, b); err != nil {
		panic(err)
	}
	out := Zeros(a.shape...)
	parallel.ForGrain(len(out.data), parallel.ElementGrain, func(start, end int) {
		for i := start; i < end; i++ {
			out.data[i] = a.data[i] * b.data[i]
		}
	})
	return out
}

func reciprocal(a *Tensor) *Tensor {
	return mapValues(a, func(v float64) float64 { return 1.0 / v })
}

func attachBinaryGrad(out, a, b *Tensor, backward func(grad *Tensor, grads map[*Tensor]*Tensor, left, right *Tensor)) {
	if !(a.requiresGrad || b.requiresGrad) {
		return
	}
	out.requiresGrad = true
	parents := make([]*Tensor, 0, 2)
	if a.requiresGrad {
		parents = append(parents, a)
	}
	if b.requiresGrad {
		parents = append(parents, b)
	}
	out.parents = parents
	out.node = &node{
		backward: func(grad *Tensor, grads map[*Tensor]*Tensor) {
			backward(grad, grads, a, b)
		},
	}
}

func ensureSameShape(a, b *Tensor) error {
	if a == nil || b == nil {
		return errors.Wrap(ErrShape, "nil tensor")
	}
	if !SameShape(a.shape, b.shape) {
		return errors.Wrapf(ErrShape, "%v vs %v", a.shape, b.shape)
	}
	return nil
}
