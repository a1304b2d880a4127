package optim

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// ClipGradNorm rescales every gradient so their joint normType-norm is at
// most maxNorm and returns the norm before scaling.
func ClipGradNorm(params []*tensor.Tensor, maxNorm float64, normType float64) float64 {
	if maxNorm <= 0 {
		return 0
	}
	if normType <= 0 {
		normType = 2
	}
	total := 0.0
	for _, p := range params {
		if g := gradOf(p); len(g) > 0 {
			total += math.Pow(floats.Norm(g, normType), normType)
		}
	}
	norm := math.Pow(total, 1/normType)
	if norm > maxNorm {
		scale := maxNorm / norm
		for _, p := range params {
			if p != nil {
				p.ScaleGrad(scale)
			}
		}
	}
	return norm
}

func ClipGradValue(params []*tensor.Tensor, clipValue float64) {
	if clipValue <= 0 {
		return
	}
	for _, p := range params {
		if p != nil {
			p.ClipGradValue(clipValue)
		}
	}
}
