package tensor

import "github.com/pkg/errors"

// Reshape returns a view of t with a new shape; one dimension may be -1.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, errors.Wrap(ErrShape, "reshape shape required")
	}
	shape = append([]int(nil), shape...)
	total := t.Numel()
	prod := 1
	infer := -1
	for i, dim := range shape {
		if dim == -1 {
			if infer != -1 {
				return nil, errors.Wrap(ErrShape, "multiple inferred dimensions")
			}
			infer = i
			continue
		}
		if dim <= 0 {
			return nil, errors.Wrapf(ErrShape, "invalid reshape dimension in %v", shape)
		}
		prod *= dim
	}
	if infer != -1 {
		if total%prod != 0 {
			return nil, errors.Wrapf(ErrShape, "cannot infer dimension of %v from %d elements", shape, total)
		}
		shape[infer] = total / prod
		prod = total
	}
	if prod != total {
		return nil, errors.Wrapf(ErrShape, "reshape %v to %v", t.shape, shape)
	}
	return view(t, shape), nil
}

// view shares t's storage under a new shape of equal size.
func view(t *Tensor, shape []int) *Tensor {
	out := &Tensor{
		data:         t.data,
		shape:        append([]int(nil), shape...),
		strides:      makeStrides(shape),
		requiresGrad: t.requiresGrad,
	}
	if t.requiresGrad {
		original := append([]int(nil), t.shape...)
		out.parents = []*Tensor{t}
		out.node = &node{
			backward: func(grad *Tensor, grads map[*Tensor]*Tensor) {
				accumulate(grads, t, &Tensor{
					data:    grad.data,
					shape:   original,
					strides: makeStrides(original),
				})
			},
		}
	}
	return out
}

func (t *Tensor) MustReshape(shape ...int) *Tensor {
	out, err := t.Reshape(shape...)
	if err != nil {
		panic(err)
	}
	return out
}

func Flatten(a *Tensor) (*Tensor, error) {
	if len(a.shape) < 2 {
		return a.Reshape(a.Numel())
	}
	features := 1
	for _, dim := range a.shape[1:] {
		features *= dim
	}
	return a.Reshape(a.shape[0], features)
}
