package tensor

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/parallel"
)

// Split cuts t along axis into consecutive parts of the given sizes.
func Split(axis int, sizes []int, t *Tensor) ([]*Tensor, error) {
	if len(sizes) == 0 {
		return nil, errors.Wrap(ErrShape, "Split requires at least one size")
	}
	axis, err := normalizeAxis(axis, len(t.shape))
	if err != nil {
		return nil, errors.Wrap(err, "Split")
	}
	total := 0
	for _, s := range sizes {
		if s <= 0 {
			return nil, errors.Wrapf(ErrShape, "Split size %d must be positive", s)
		}
		total += s
	}
	if total != t.shape[axis] {
		return nil, errors.Wrapf(ErrShape, "Split sizes %v do not cover axis of length %d", sizes, t.shape[axis])
	}
	result := make([]*Tensor, len(sizes))
	offset := 0
	for i, size := range sizes {
		part, err := Narrow(t, axis, offset, size)
		if err != nil {
			return nil, err
		}
		result[i] = part
		offset += size
	}
	return result, nil
}

// Unbind splits t into slices of length one along axis and drops that axis.
func Unbind(axis int, t *Tensor) ([]*Tensor, error) {
	axis, err := normalizeAxis(axis, len(t.shape))
	if err != nil {
		return nil, errors.Wrap(err, "Unbind")
	}
	n := t.shape[axis]
	out := make([]*Tensor, n)
	for i := 0; i < n; i++ {
		part, err := Narrow(t, axis, i, 1)
		if err != nil {
			return nil, err
		}
		if len(t.shape) > 1 {
			part, err = Squeeze(part, axis)
			if err != nil {
				return nil, err
			}
		}
		out[i] = part
	}
	return out, nil
}

// Narrow returns the slice [start, start+length) of t along axis.
func Narrow(t *Tensor, axis, start, length int) (*Tensor, error) {
	axis, err := normalizeAxis(axis, len(t.shape))
	if err != nil {
		return nil, errors.Wrap(err, "Narrow")
	}
	axisSize := t.shape[axis]
	if start < 0 || length <= 0 || start+length > axisSize {
		return nil, errors.Wrapf(ErrShape, "Narrow [%d, %d) out of axis length %d", start, start+length, axisSize)
	}
	outer, inner := outerInner(t.shape, axis)
	shape := append([]int(nil), t.shape...)
	shape[axis] = length
	out := Zeros(shape...)
	parallel.For(outer, func(lo, hi int) {
		for o := lo; o < hi; o++ {
			src := (o*axisSize + start) * inner
			dst := o * length * inner
			copy(out.data[dst:dst+length*inner], t.data[src:src+length*inner])
		}
	})
	unary(out, t, func(grad *Tensor) *Tensor {
		full := Zeros(t.shape...)
		parallel.For(outer, func(lo, hi int) {
			for o := lo; o < hi; o++ {
				dst := (o*axisSize + start) * inner
				src := o * length * inner
				copy(full.data[dst:dst+length*inner], grad.data[src:src+length*inner])
			}
		})
		return full
	})
	return out, nil
}
