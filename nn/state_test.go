package nn

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

func TestStateMapAndZip(t *testing.T) {
	a := Dual(tensor.MustNew([]float64{1, 2}, 1, 2), tensor.MustNew([]float64{3, 4}, 1, 2))
	doubled, err := a.Map(func(x *tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.MulScalar(x, 2), nil
	})
	require.NoError(t, err)
	require.True(t, doubled.IsDual())
	require.Equal(t, []float64{6, 8}, doubled.Cell().Data())

	sum, err := a.Zip(doubled, tensor.Add)
	require.NoError(t, err)
	require.Equal(t, []float64{3, 6}, sum.Hidden().Data())

	_, err = a.Zip(Single(tensor.Zeros(1, 2)), tensor.Add)
	require.Error(t, err)
	require.Len(t, Single(tensor.Zeros(1)).Channels(), 1)
	require.True(t, State{}.IsZero())
}

func TestStackAndSliceStates(t *testing.T) {
	s0 := Single(tensor.MustNew([]float64{1, 2}, 1, 2))
	s1 := Single(tensor.MustNew([]float64{3, 4}, 1, 2))
	stacked, err := StackStates([]State{s0, s1})
	require.NoError(t, err)
	require.Equal(t, []int{2, 1, 2}, stacked.Shape())
	back, err := SliceState(stacked, 1)
	require.NoError(t, err)
	require.Equal(t, []float64{3, 4}, back.Hidden().Data())
}

func TestPackUnpackZeroesPadding(t *testing.T) {
	data := tensor.Ones(3, 2, 2)
	_, err := PackSorted(data, []int{1, 3})
	require.True(t, errors.Is(err, ErrNotSorted))

	p, err := PackSorted(data, []int{3, 1})
	require.NoError(t, err)
	out, lengths, err := Unpack(p)
	require.NoError(t, err)
	require.Equal(t, []int{3, 1}, lengths)
	require.Equal(t, []float64{1, 1, 1, 1, 1, 1, 0, 0, 1, 1, 0, 0}, out.Data())

	_, err = Pack(data, []int{3})
	require.Error(t, err)
}

func TestSortRoundTrip(t *testing.T) {
	lengths := []int{2, 5, 3, 5}
	order := SortByLength(lengths)
	require.Equal(t, []int{1, 3, 2, 0}, order)
	require.Equal(t, []int{5, 5, 3, 2}, Permuted(lengths, order))
	inv := InversePermutation(order)
	require.Equal(t, lengths, Permuted(Permuted(lengths, order), inv))
}
