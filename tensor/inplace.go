package tensor

import "github.com/fumitoshi0524/ixeoriNMT/internal/parallel"

// The in-place helpers below bypass autograd; they are meant for optimizer
// state and for gradient-free decoder bookkeeping.

func (t *Tensor) Scale(v float64) {
	parallel.ForGrain(len(t.data), parallel.ElementGrain, func(start, end int) {
		for i := start; i < end; i++ {
			t.data[i] *= v
		}
	})
}

func (t *Tensor) AddScaled(other *Tensor, alpha float64) error {
	if err := ensureSameShape(t, other); err != nil {
		return err
	}
	parallel.ForGrain(len(t.data), parallel.ElementGrain, func(start, end int) {
		for i := start; i < end; i++ {
			t.data[i] += alpha * other.data[i]
		}
	})
	return nil
}
