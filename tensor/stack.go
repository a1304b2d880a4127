package tensor

import "github.com/pkg/errors"

// Stack joins equally shaped tensors along a new axis.
func Stack(axis int, tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.Wrap(ErrShape, "Stack requires at least one tensor")
	}
	base := tensors[0]
	for _, t := range tensors[1:] {
		if !SameShape(t.shape, base.shape) {
			return nil, errors.Wrapf(ErrShape, "Stack %v vs %v", t.shape, base.shape)
		}
	}
	unsqueezed := make([]*Tensor, len(tensors))
	for i, t := range tensors {
		u, err := Unsqueeze(t, axis)
		if err != nil {
			return nil, err
		}
		unsqueezed[i] = u
	}
	return Concat(axis, unsqueezed...)
}
