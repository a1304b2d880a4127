package tensor

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/parallel"
)

// SumAxis sums elements along the given axis and returns a tensor with that
// axis removed.
func SumAxis(a *Tensor, axis int) (*Tensor, error) {
	rank := len(a.shape)
	axis, err := normalizeAxis(axis, rank)
	if err != nil {
		return nil, errors.Wrap(err, "SumAxis")
	}
	outer, inner := outerInner(a.shape, axis)
	axisSize := a.shape[axis]
	outShape := make([]int, 0, rank-1)
	outShape = append(outShape, a.shape[:axis]...)
	outShape = append(outShape, a.shape[axis+1:]...)
	if len(outShape) == 0 {
		outShape = []int{1}
	}
	out := Zeros(outShape...)
	parallel.For(outer, func(start, end int) {
		for o := start; o < end; o++ {
			src := o * axisSize * inner
			dst := o * inner
			for k := 0; k < axisSize; k++ {
				row := a.data[src+k*inner : src+(k+1)*inner]
				for in, v := range row {
					out.data[dst+in] += v
				}
			}
		}
	})
	unary(out, a, func(grad *Tensor) *Tensor {
		g := Zeros(a.shape...)
		parallel.For(outer, func(start, end int) {
			for o := start; o < end; o++ {
				src := o * inner
				dst := o * axisSize * inner
				for k := 0; k < axisSize; k++ {
					copy(g.data[dst+k*inner:dst+(k+1)*inner], grad.data[src:src+inner])
				}
			}
		})
		return g
	})
	return out, nil
}

// MeanAxis averages along the given axis and removes it.
func MeanAxis(a *Tensor, axis int) (*Tensor, error) {
	s, err := SumAxis(a, axis)
	if err != nil {
		return nil, err
	}
	return MulScalar(s, 1.0/float64(a.Dim(axis))), nil
}
