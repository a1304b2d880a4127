package tensor

import (
	"github.com/pkg/errors"
)

// Squeeze drops the listed size-one axes, or every size-one axis when none are given.
func Squeeze(t *Tensor, axes ...int) (*Tensor, error) {
	rank := len(t.shape)
	remove := make([]bool, rank)
	if len(axes) == 0 {
		for i, dim := range t.shape {
			remove[i] = dim == 1
		}
	}
	for _, axis := range axes {
		a, err := normalizeAxis(axis, rank)
		if err != nil {
			return nil, errors.Wrap(err, "Squeeze")
		}
		if t.shape[a] != 1 {
			return nil, errors.Wrapf(ErrShape, "cannot squeeze axis %d of %v", a, t.shape)
		}
		remove[a] = true
	}
	shape := make([]int, 0, rank)
	for i, dim := range t.shape {
		if !remove[i] {
			shape = append(shape, dim)
		}
	}
	if len(shape) == 0 {
		shape = []int{1}
	}
	return view(t, shape), nil
}

// Unsqueeze inserts a size-one axis at position axis.
func Unsqueeze(t *Tensor, axis int) (*Tensor, error) {
	rank := len(t.shape)
	if axis < 0 {
		axis += rank + 1
	}
	if axis < 0 || axis > rank {
		return nil, errors.Wrapf(ErrAxis, "Unsqueeze axis %d for rank %d", axis, rank)
	}
	shape := make([]int, 0, rank+1)
	shape = append(shape, t.shape[:axis]...)
	shape = append(shape, 1)
	shape = append(shape, t.shape[axis:]...)
	return view(t, shape), nil
}
