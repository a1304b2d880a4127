package encoder

import (
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// bridge projects a [slices, batch, hidden] final state to
// [outSlices, batch, hidden] through one Linear+ReLU per state channel.
// Each batch row's slices are flattened together, so rows never mix.
type bridge struct {
	slices    int
	outSlices int
	hidden    int
	channels  []*nn.Sequential
}

func newBridge(channels, slices, outSlices, hidden int) *bridge {
	b := &bridge{slices: slices, outSlices: outSlices, hidden: hidden}
	for i := 0; i < channels; i++ {
		b.channels = append(b.channels, nn.NewSequential(
			nn.NewLinear(slices*hidden, outSlices*hidden, true),
			nn.Relu(),
		))
	}
	return b
}

func (b *bridge) forward(state nn.State) (nn.State, error) {
	return state.MapIndexed(func(i int, h *tensor.Tensor) (*tensor.Tensor, error) {
		batch := h.Dim(1)
		rows, err := tensor.Permute(h, 1, 0, 2)
		if err != nil {
			return nil, err
		}
		flat, err := rows.Reshape(batch, b.slices*b.hidden)
		if err != nil {
			return nil, err
		}
		proj, err := b.channels[i].Forward(flat)
		if err != nil {
			return nil, err
		}
		proj, err = proj.Reshape(batch, b.outSlices, b.hidden)
		if err != nil {
			return nil, err
		}
		return tensor.Permute(proj, 1, 0, 2)
	})
}

func (b *bridge) Parameters() []*tensor.Tensor {
	mods := make([]nn.Module, len(b.channels))
	for i, c := range b.channels {
		mods[i] = c
	}
	return nn.Collect(mods...)
}
