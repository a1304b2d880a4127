// Package check holds the equality assertions used at component boundaries.
package check

import (
	"github.com/pkg/errors"
)

// ErrShapeMismatch reports two sizes that must agree but do not.
var ErrShapeMismatch = errors.New("shape mismatch")

// Equal fails unless every value equals the first. name describes the
// quantity being compared and ends up in the error message.
func Equal(name string, values ...int) error {
	for _, v := range values[1:] {
		if v != values[0] {
			return errors.Wrapf(ErrShapeMismatch, "%s: %v", name, values)
		}
	}
	return nil
}

// Dims fails unless got has the wanted rank and every non-negative entry of
// want matches; a negative entry matches any size.
func Dims(name string, got []int, want ...int) error {
	if len(got) != len(want) {
		return errors.Wrapf(ErrShapeMismatch, "%s: rank %d, want %d (shape %v)", name, len(got), len(want), got)
	}
	for i, w := range want {
		if w >= 0 && got[i] != w {
			return errors.Wrapf(ErrShapeMismatch, "%s: shape %v, want %v", name, got, want)
		}
	}
	return nil
}

// Lengths validates a length vector against a batch size and maximum time.
func Lengths(lengths []int, batch, maxLen int) error {
	if err := Equal("lengths vs batch", len(lengths), batch); err != nil {
		return err
	}
	for b, l := range lengths {
		if l < 1 || l > maxLen {
			return errors.Wrapf(ErrShapeMismatch, "length %d of row %d outside [1, %d]", l, b, maxLen)
		}
	}
	return nil
}
