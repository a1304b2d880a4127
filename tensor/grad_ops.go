package tensor

import (
	"math"

	"github.com/fumitoshi0524/ixeoriNMT/internal/parallel"
)

func (t *Tensor) ScaleGrad(factor float64) {
	if t == nil || t.grad == nil {
		return
	}
	t.grad.Scale(factor)
}

func (t *Tensor) ClipGradValue(limit float64) {
	if t == nil || t.grad == nil || limit <= 0 {
		return
	}
	grad := t.grad
	parallel.ForGrain(len(grad.data), parallel.ElementGrain, func(start, end int) {
		for i := start; i < end; i++ {
			grad.data[i] = math.Max(-limit, math.Min(limit, grad.data[i]))
		}
	})
}
