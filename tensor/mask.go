package tensor

import (
	"math"

	"github.com/pkg/errors"
)

// SequenceMask returns a [batch, maxLen] tensor holding 1 where position < lengths[b].
func SequenceMask(lengths []int, maxLen int) (*Tensor, error) {
	if len(lengths) == 0 || maxLen <= 0 {
		return nil, errors.Wrapf(ErrShape, "SequenceMask for %d lengths up to %d", len(lengths), maxLen)
	}
	out := Zeros(len(lengths), maxLen)
	for b, l := range lengths {
		if l < 0 || l > maxLen {
			return nil, errors.Wrapf(ErrShape, "length %d outside [0, %d]", l, maxLen)
		}
		for t := 0; t < l; t++ {
			out.data[b*maxLen+t] = 1
		}
	}
	return out, nil
}

// MaskedFill replaces every element whose mask entry is zero with value.
// mask must have the same shape as t. Filled positions receive no gradient.
func MaskedFill(t, mask *Tensor, value float64) (*Tensor, error) {
	if err := ensureSameShape(t, mask); err != nil {
		return nil, errors.Wrap(err, "MaskedFill")
	}
	out := t.Clone()
	for i, m := range mask.data {
		if m == 0 {
			out.data[i] = value
		}
	}
	unary(out, t, func(grad *Tensor) *Tensor {
		g := grad.Clone()
		for i, m := range mask.data {
			if m == 0 {
				g.data[i] = 0
			}
		}
		return g
	})
	return out, nil
}

// MaskScores fills padded memory positions of [batch, queries, memLen] scores
// with -Inf so that a following softmax assigns them exactly zero weight.
func MaskScores(scores *Tensor, lengths []int) (*Tensor, error) {
	if len(scores.shape) != 3 {
		return nil, errors.Wrapf(ErrShape, "MaskScores expects [batch, queries, memLen], got %v", scores.shape)
	}
	batch, queries, memLen := scores.shape[0], scores.shape[1], scores.shape[2]
	if len(lengths) != batch {
		return nil, errors.Wrapf(ErrShape, "MaskScores got %d lengths for batch %d", len(lengths), batch)
	}
	mask, err := SequenceMask(lengths, memLen)
	if err != nil {
		return nil, err
	}
	expanded, err := Expand(mask, 1, queries)
	if err != nil {
		return nil, err
	}
	return MaskedFill(scores, expanded, math.Inf(-1))
}
