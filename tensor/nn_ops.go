package tensor

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/parallel"
)

// AddBias2D adds a [cols] bias to every row of a [rows, cols] tensor.
func AddBias2D(a, bias *Tensor) (*Tensor, error) {
	if len(a.shape) != 2 || len(bias.shape) != 1 || a.shape[1] != bias.shape[0] {
		return nil, errors.Wrapf(ErrShape, "AddBias2D %v + %v", a.shape, bias.shape)
	}
	rows, cols := a.shape[0], a.shape[1]
	out := a.Clone()
	parallel.For(rows, func(start, end int) {
		for i := start; i < end; i++ {
			offset := i * cols
			for j := 0; j < cols; j++ {
				out.data[offset+j] += bias.data[j]
			}
		}
	})
	attachBinaryGrad(out, a, bias, func(grad *Tensor, grads map[*Tensor]*Tensor, left, right *Tensor) {
		if left.requiresGrad {
			accumulate(grads, left, grad)
		}
		if right.requiresGrad {
			agg := Zeros(right.shape...)
			for i := 0; i < rows; i++ {
				offset := i * cols
				for j := 0; j < cols; j++ {
					agg.data[j] += grad.data[offset+j]
				}
			}
			accumulate(grads, right, agg)
		}
	})
	return out, nil
}
