package tensor

import (
	"math"

	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/parallel"
)

// LogSoftmax normalizes over the last axis. Entries equal to -Inf stay -Inf
// and contribute nothing to the normalizer.
func LogSoftmax(a *Tensor, axis int) (*Tensor, error) {
	rank := len(a.shape)
	axis, err := normalizeAxis(axis, rank)
	if err != nil {
		return nil, errors.Wrap(err, "LogSoftmax")
	}
	if axis != rank-1 {
		return nil, errors.Wrapf(ErrAxis, "LogSoftmax supports the last axis only, got %d for rank %d", axis, rank)
	}
	cols := a.shape[axis]
	rows := len(a.data) / cols
	out := Zeros(a.shape...)
	parallel.For(rows, func(start, end int) {
		for i := start; i < end; i++ {
			row := a.data[i*cols : (i+1)*cols]
			maxVal := math.Inf(-1)
			for _, v := range row {
				if v > maxVal {
					maxVal = v
				}
			}
			sum := 0.0
			for _, v := range row {
				sum += math.Exp(v - maxVal)
			}
			logSum := maxVal + math.Log(sum)
			dst := out.data[i*cols : (i+1)*cols]
			for j, v := range row {
				dst[j] = v - logSum
			}
		}
	})
	unary(out, a, func(grad *Tensor) *Tensor {
		gx := Zeros(a.shape...)
		parallel.For(rows, func(start, end int) {
			for i := start; i < end; i++ {
				offset := i * cols
				sumGrad := 0.0
				for j := 0; j < cols; j++ {
					sumGrad += grad.data[offset+j]
				}
				for j := 0; j < cols; j++ {
					soft := math.Exp(out.data[offset+j])
					if math.IsInf(a.data[offset+j], -1) {
						continue
					}
					gx.data[offset+j] = grad.data[offset+j] - soft*sumGrad
				}
			}
		})
		return gx
	})
	return out, nil
}

// Softmax normalizes over the last axis.
func Softmax(a *Tensor, axis int) (*Tensor, error) {
	logsm, err := LogSoftmax(a, axis)
	if err != nil {
		return nil, err
	}
	return Exp(logsm), nil
}
