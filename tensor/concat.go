package tensor

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/parallel"
)

// Concat joins tensors along axis; every other dimension must agree.
func Concat(axis int, tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.Wrap(ErrShape, "Concat requires at least one tensor")
	}
	base := tensors[0]
	rank := len(base.shape)
	axis, err := normalizeAxis(axis, rank)
	if err != nil {
		return nil, errors.Wrap(err, "Concat")
	}
	outShape := append([]int(nil), base.shape...)
	sumAxis := base.shape[axis]
	for _, t := range tensors[1:] {
		if len(t.shape) != rank {
			return nil, errors.Wrapf(ErrShape, "Concat rank mismatch %v vs %v", t.shape, base.shape)
		}
		for d := 0; d < rank; d++ {
			if d != axis && t.shape[d] != base.shape[d] {
				return nil, errors.Wrapf(ErrShape, "Concat along %d: %v vs %v", axis, t.shape, base.shape)
			}
		}
		sumAxis += t.shape[axis]
	}
	outShape[axis] = sumAxis
	out := Zeros(outShape...)
	outer, inner := outerInner(base.shape, axis)
	axisOffset := 0
	for _, t := range tensors {
		axisSize := t.shape[axis]
		offset := axisOffset
		parallel.For(outer, func(start, end int) {
			for o := start; o < end; o++ {
				dst := (o*sumAxis + offset) * inner
				src := o * axisSize * inner
				copy(out.data[dst:dst+axisSize*inner], t.data[src:src+axisSize*inner])
			}
		})
		axisOffset += axisSize
	}
	parents := make([]*Tensor, 0, len(tensors))
	for _, t := range tensors {
		if t.requiresGrad {
			parents = append(parents, t)
		}
	}
	if len(parents) == 0 {
		return out, nil
	}
	out.requiresGrad = true
	out.parents = parents
	out.node = &node{
		backward: func(grad *Tensor, grads map[*Tensor]*Tensor) {
			offset := 0
			for _, t := range tensors {
				axisSize := t.shape[axis]
				if t.requiresGrad {
					g := Zeros(t.shape...)
					off := offset
					parallel.For(outer, func(start, end int) {
						for o := start; o < end; o++ {
							src := (o*sumAxis + off) * inner
							dst := o * axisSize * inner
							copy(g.data[dst:dst+axisSize*inner], grad.data[src:src+axisSize*inner])
						}
					})
					accumulate(grads, t, g)
				}
				offset += axisSize
			}
		},
	}
	return out, nil
}
