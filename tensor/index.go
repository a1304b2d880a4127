package tensor

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/parallel"
)

// IndexSelect gathers slices of t along axis: output slice i is input slice
// index[i]. Indices may repeat; gradients of repeated picks accumulate.
func IndexSelect(t *Tensor, axis int, index []int) (*Tensor, error) {
	axis, err := normalizeAxis(axis, len(t.shape))
	if err != nil {
		return nil, errors.Wrap(err, "IndexSelect")
	}
	if len(index) == 0 {
		return nil, errors.Wrap(ErrShape, "IndexSelect needs at least one index")
	}
	axisSize := t.shape[axis]
	for _, idx := range index {
		if idx < 0 || idx >= axisSize {
			return nil, errors.Wrapf(ErrShape, "IndexSelect index %d out of range [0, %d)", idx, axisSize)
		}
	}
	index = append([]int(nil), index...)
	outer, inner := outerInner(t.shape, axis)
	shape := append([]int(nil), t.shape...)
	shape[axis] = len(index)
	out := Zeros(shape...)
	n := len(index)
	parallel.For(outer, func(start, end int) {
		for o := start; o < end; o++ {
			for i, idx := range index {
				src := (o*axisSize + idx) * inner
				dst := (o*n + i) * inner
				copy(out.data[dst:dst+inner], t.data[src:src+inner])
			}
		}
	})
	unary(out, t, func(grad *Tensor) *Tensor {
		g := Zeros(t.shape...)
		parallel.For(outer, func(start, end int) {
			for o := start; o < end; o++ {
				for i, idx := range index {
					src := (o*n + i) * inner
					dst := (o*axisSize + idx) * inner
					for j := 0; j < inner; j++ {
						g.data[dst+j] += grad.data[src+j]
					}
				}
			}
		})
		return g
	})
	return out, nil
}

// IndexCopy returns a gradient-free copy of t in which slice dst[k] along
// axis holds the original slice src[k]. All reads see the values of t before
// any write, so permutations never observe partially updated rows.
func IndexCopy(t *Tensor, axis int, dst, src []int) (*Tensor, error) {
	axis, err := normalizeAxis(axis, len(t.shape))
	if err != nil {
		return nil, errors.Wrap(err, "IndexCopy")
	}
	if len(dst) != len(src) {
		return nil, errors.Wrapf(ErrShape, "IndexCopy got %d destinations and %d sources", len(dst), len(src))
	}
	axisSize := t.shape[axis]
	for k := range dst {
		if dst[k] < 0 || dst[k] >= axisSize || src[k] < 0 || src[k] >= axisSize {
			return nil, errors.Wrapf(ErrShape, "IndexCopy pair (%d <- %d) out of range [0, %d)", dst[k], src[k], axisSize)
		}
	}
	outer, inner := outerInner(t.shape, axis)
	out := t.Clone()
	for o := 0; o < outer; o++ {
		for k := range dst {
			from := (o*axisSize + src[k]) * inner
			to := (o*axisSize + dst[k]) * inner
			copy(out.data[to:to+inner], t.data[from:from+inner])
		}
	}
	return out, nil
}

// Tile repeats the whole extent of axis the given number of times, so slice
// j of the result is slice j mod n of the input.
func Tile(t *Tensor, axis, times int) (*Tensor, error) {
	if times <= 0 {
		return nil, errors.Wrapf(ErrShape, "Tile count %d must be positive", times)
	}
	axis, err := normalizeAxis(axis, len(t.shape))
	if err != nil {
		return nil, errors.Wrap(err, "Tile")
	}
	n := t.shape[axis]
	index := make([]int, 0, n*times)
	for r := 0; r < times; r++ {
		for i := 0; i < n; i++ {
			index = append(index, i)
		}
	}
	return IndexSelect(t, axis, index)
}

// Expand inserts a new axis at position axis with the given size by repeating t.
func Expand(t *Tensor, axis, size int) (*Tensor, error) {
	u, err := Unsqueeze(t, axis)
	if err != nil {
		return nil, err
	}
	return Tile(u, axis, size)
}

// Flip reverses t along axis.
func Flip(t *Tensor, axis int) (*Tensor, error) {
	axis, err := normalizeAxis(axis, len(t.shape))
	if err != nil {
		return nil, errors.Wrap(err, "Flip")
	}
	n := t.shape[axis]
	index := make([]int, n)
	for i := range index {
		index[i] = n - 1 - i
	}
	return IndexSelect(t, axis, index)
}
