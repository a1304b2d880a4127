package tensor

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/parallel"
)

func Transpose(a *Tensor) (*Tensor, error) {
	if len(a.shape) != 2 {
		return nil, errors.Wrapf(ErrShape, "Transpose expects rank 2 tensor, got %v", a.shape)
	}
	return Permute(a, 1, 0)
}

func (t *Tensor) MustTranspose() *Tensor {
	tr, err := Transpose(t)
	if err != nil {
		panic(err)
	}
	return tr
}

// Permute reorders the axes of t so that output axis i is input axis perm[i].
func Permute(t *Tensor, perm ...int) (*Tensor, error) {
	rank := len(t.shape)
	if len(perm) != rank {
		return nil, errors.Wrapf(ErrAxis, "Permute %v for rank %d", perm, rank)
	}
	seen := make([]bool, rank)
	shape := make([]int, rank)
	for i, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			return nil, errors.Wrapf(ErrAxis, "Permute %v is not a permutation", perm)
		}
		seen[p] = true
		shape[i] = t.shape[p]
	}
	out := Zeros(shape...)
	permuteInto(out.data, t.data, t.shape, perm)
	unary(out, t, func(grad *Tensor) *Tensor {
		inverse := make([]int, rank)
		for i, p := range perm {
			inverse[p] = i
		}
		g := Zeros(t.shape...)
		permuteInto(g.data, grad.data, shape, inverse)
		return g
	})
	return out, nil
}

// SwapTimeBatch exchanges the first two axes: [time, batch, ...] <-> [batch, time, ...].
func SwapTimeBatch(t *Tensor) (*Tensor, error) {
	perm := make([]int, len(t.shape))
	for i := range perm {
		perm[i] = i
	}
	if len(perm) < 2 {
		return nil, errors.Wrapf(ErrShape, "SwapTimeBatch needs rank >= 2, got %v", t.shape)
	}
	perm[0], perm[1] = 1, 0
	return Permute(t, perm...)
}

func permuteInto(dst, src []float64, srcShape []int, perm []int) {
	rank := len(srcShape)
	srcStrides := makeStrides(srcShape)
	dstShape := make([]int, rank)
	for i, p := range perm {
		dstShape[i] = srcShape[p]
	}
	dstStrides := makeStrides(dstShape)
	parallel.ForGrain(len(dst), parallel.ElementGrain, func(start, end int) {
		for idx := start; idx < end; idx++ {
			rem := idx
			off := 0
			for i := 0; i < rank; i++ {
				coord := rem / dstStrides[i]
				rem %= dstStrides[i]
				off += coord * srcStrides[perm[i]]
			}
			dst[idx] = src[off]
		}
	})
}
