package tensor

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/parallel"
)

func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		return nil, errors.Wrapf(ErrShape, "MatMul expects rank 2 tensors, got %v and %v", a.shape, b.shape)
	}
	if a.shape[1] != b.shape[0] {
		return nil, errors.Wrapf(ErrShape, "MatMul %v x %v", a.shape, b.shape)
	}
	out := matmulRaw(a, b, false, false)
	attachBinaryGrad(out, a, b, func(grad *Tensor, grads map[*Tensor]*Tensor, left, right *Tensor) {
		if left.requiresGrad {
			accumulate(grads, left, matmulRaw(grad, right, false, true))
		}
		if right.requiresGrad {
			accumulate(grads, right, matmulRaw(left, grad, true, false))
		}
	})
	return out, nil
}

// BatchMatMul multiplies [batch, n, k] by [batch, k, m] giving [batch, n, m].
func BatchMatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.shape) != 3 || len(b.shape) != 3 {
		return nil, errors.Wrapf(ErrShape, "BatchMatMul expects rank 3 tensors, got %v and %v", a.shape, b.shape)
	}
	if a.shape[0] != b.shape[0] || a.shape[2] != b.shape[1] {
		return nil, errors.Wrapf(ErrShape, "BatchMatMul %v x %v", a.shape, b.shape)
	}
	batch, n, k, m := a.shape[0], a.shape[1], a.shape[2], b.shape[2]
	out := Zeros(batch, n, m)
	bmmRaw(out.data, a.data, b.data, batch, n, k, m, false, false)
	attachBinaryGrad(out, a, b, func(grad *Tensor, grads map[*Tensor]*Tensor, left, right *Tensor) {
		if left.requiresGrad {
			// dA = dOut · Bᵀ
			ga := Zeros(batch, n, k)
			bmmRaw(ga.data, grad.data, right.data, batch, n, m, k, false, true)
			accumulate(grads, left, ga)
		}
		if right.requiresGrad {
			// dB = Aᵀ · dOut
			gb := Zeros(batch, k, m)
			bmmRaw(gb.data, left.data, grad.data, batch, k, n, m, true, false)
			accumulate(grads, right, gb)
		}
	})
	return out, nil
}

// bmmRaw computes dst[b] = op(x[b]) · op(y[b]) where the result is rows x cols
// and inner is the contracted length. transX means x[b] is stored inner x rows,
// transY means y[b] is stored cols x inner.
func bmmRaw(dst, x, y []float64, batch, rows, inner, cols int, transX, transY bool) {
	parallel.For(batch, func(start, end int) {
		for b := start; b < end; b++ {
			xb := x[b*rows*inner : (b+1)*rows*inner]
			yb := y[b*inner*cols : (b+1)*inner*cols]
			db := dst[b*rows*cols : (b+1)*rows*cols]
			for i := 0; i < rows; i++ {
				for p := 0; p < inner; p++ {
					var xv float64
					if transX {
						xv = xb[p*rows+i]
					} else {
						xv = xb[i*inner+p]
					}
					if xv == 0 {
						continue
					}
					for j := 0; j < cols; j++ {
						var yv float64
						if transY {
							yv = yb[j*inner+p]
						} else {
							yv = yb[p*cols+j]
						}
						db[i*cols+j] += xv * yv
					}
				}
			}
		}
	})
}

func matmulRaw(a, b *Tensor, transA, transB bool) *Tensor {
	aRows, aCols := shape2D(a, transA)
	bRows, bCols := shape2D(b, transB)
	if aCols != bRows {
		panic("matmulRaw shape mismatch")
	}
	out := Zeros(aRows, bCols)
	parallel.For(aRows, func(start, end int) {
		for i := start; i < end; i++ {
			for k := 0; k < aCols; k++ {
				aik := index2D(a, i, k, transA)
				if aik == 0 {
					continue
				}
				for j := 0; j < bCols; j++ {
					out.data[i*bCols+j] += aik * index2D(b, k, j, transB)
				}
			}
		}
	})
	return out
}

func shape2D(t *Tensor, trans bool) (int, int) {
	if len(t.shape) != 2 {
		panic("shape2D expects rank 2 tensor")
	}
	if trans {
		return t.shape[1], t.shape[0]
	}
	return t.shape[0], t.shape[1]
}

func index2D(t *Tensor, row, col int, trans bool) float64 {
	if !trans {
		return t.data[row*t.shape[1]+col]
	}
	return t.data[col*t.shape[1]+row]
}
