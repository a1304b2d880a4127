package nn

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

var ErrNotSorted = errors.New("lengths must be sorted in descending order")

// PackedSequence is a padded [time, batch, features] batch together with the
// true length of every row. Values past a row's length are ignored by the
// transducers and zeroed by Unpack.
type PackedSequence struct {
	Data    *tensor.Tensor
	Lengths []int
}

// Pack validates lengths against data. Rows may come in any order.
func Pack(data *tensor.Tensor, lengths []int) (*PackedSequence, error) {
	shape := data.Shape()
	if len(shape) != 3 {
		return nil, errors.Wrapf(tensor.ErrShape, "Pack expects [time, batch, features], got %v", shape)
	}
	if err := check.Lengths(lengths, shape[1], shape[0]); err != nil {
		return nil, err
	}
	return &PackedSequence{Data: data, Lengths: append([]int(nil), lengths...)}, nil
}

// PackSorted is Pack for callers that promise non-increasing lengths.
func PackSorted(data *tensor.Tensor, lengths []int) (*PackedSequence, error) {
	for i := 1; i < len(lengths); i++ {
		if lengths[i] > lengths[i-1] {
			return nil, errors.Wrapf(ErrNotSorted, "%v", lengths)
		}
	}
	return Pack(data, lengths)
}

// Unpack returns the padded batch with every position past a row's length
// set to zero, plus the lengths.
func Unpack(p *PackedSequence) (*tensor.Tensor, []int, error) {
	shape := p.Data.Shape()
	masks := stepMasks(p.Lengths, shape[0], shape[2])
	if masks == nil {
		return p.Data, append([]int(nil), p.Lengths...), nil
	}
	mask, err := tensor.Stack(0, masks...)
	if err != nil {
		return nil, nil, err
	}
	out, err := tensor.Mul(p.Data, mask)
	if err != nil {
		return nil, nil, err
	}
	return out, append([]int(nil), p.Lengths...), nil
}

// SortByLength returns the row order that sorts lengths in descending order.
// Ties keep their original relative order.
func SortByLength(lengths []int) []int {
	order := make([]int, len(lengths))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lengths[order[a]] > lengths[order[b]]
	})
	return order
}

// InversePermutation returns inv with inv[order[i]] = i.
func InversePermutation(order []int) []int {
	inv := make([]int, len(order))
	for i, o := range order {
		inv[o] = i
	}
	return inv
}

// Permuted returns values reordered by order.
func Permuted(values []int, order []int) []int {
	out := make([]int, len(order))
	for i, o := range order {
		out[i] = values[o]
	}
	return out
}
