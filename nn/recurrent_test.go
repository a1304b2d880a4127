package nn

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

func runCell(t *testing.T, cell Cell, inputs []float64, state State) ([]float64, State) {
	t.Helper()
	outputs := make([]float64, len(inputs))
	for i, x := range inputs {
		var err error
		state, err = cell.Step(tensor.MustNew([]float64{x}, 1, 1), state)
		require.NoError(t, err)
		outputs[i] = state.Hidden().Data()[0]
	}
	return outputs, state
}

func TestRNNCellForwardBackward(t *testing.T) {
	cell := NewRNNCell(1, 1, true)
	mustSetData(t, cell.weightIH[0], []float64{0.8})
	mustSetData(t, cell.weightHH[0], []float64{0.1})
	mustSetData(t, cell.biasIH[0], []float64{0.05})
	mustSetData(t, cell.biasHH[0], []float64{-0.02})

	inputs := []float64{0.2, -0.1, 0.3}
	outputs, final := runCell(t, cell, inputs, ZeroState(false, 1, 1))
	expectedSeq, expectedLast := simpleRNNReference(inputs, 0.8, 0.1, 0.05, -0.02)
	require.True(t, floatsAlmostEqual(outputs, expectedSeq, 1e-9), "got %v want %v", outputs, expectedSeq)
	require.InDelta(t, expectedLast, final.Hidden().Data()[0], 1e-9)

	require.NoError(t, tensor.Sum(final.Hidden()).Backward())
	for _, p := range cell.Parameters() {
		require.NotNil(t, p.Grad())
	}
}

func TestGRUCellMatchesReference(t *testing.T) {
	cell := NewGRUCell(1, 1, false)
	mustSetData(t, cell.weightIH[gruGateUpdate], []float64{0.15})
	mustSetData(t, cell.weightHH[gruGateUpdate], []float64{0.05})
	mustSetData(t, cell.weightIH[gruGateReset], []float64{-0.2})
	mustSetData(t, cell.weightHH[gruGateReset], []float64{0.1})
	mustSetData(t, cell.weightIH[gruGateNew], []float64{0.4})
	mustSetData(t, cell.weightHH[gruGateNew], []float64{0.3})

	inputs := []float64{0.2, -0.1, 0.3}
	outputs, final := runCell(t, cell, inputs, ZeroState(false, 1, 1))
	expectedSeq, expectedLast := gruReference(inputs, 0.15, 0.05, -0.2, 0.1, 0.4, 0.3)
	require.True(t, floatsAlmostEqual(outputs, expectedSeq, 1e-9))
	require.InDelta(t, expectedLast, final.Hidden().Data()[0], 1e-9)
}

func TestLSTMCellMatchesReference(t *testing.T) {
	cell := NewLSTMCell(1, 1, false)
	wIH := [lstmGateTotal]float64{0.25, -0.3, 0.45, 0.35}
	wHH := [lstmGateTotal]float64{0.1, 0.2, 0.15, 0.05}
	for gate := 0; gate < lstmGateTotal; gate++ {
		mustSetData(t, cell.weightIH[gate], []float64{wIH[gate]})
		mustSetData(t, cell.weightHH[gate], []float64{wHH[gate]})
	}
	inputs := []float64{0.2, -0.1, 0.3}
	outputs, final := runCell(t, cell, inputs, ZeroState(true, 1, 1))
	expectedSeq, expectedH, expectedC := lstmReference(inputs, wIH, wHH)
	require.True(t, floatsAlmostEqual(outputs, expectedSeq, 1e-9))
	require.InDelta(t, expectedH, final.Hidden().Data()[0], 1e-9)
	require.InDelta(t, expectedC, final.Cell().Data()[0], 1e-9)

	_, err := cell.Step(tensor.Zeros(1, 1), ZeroState(false, 1, 1))
	require.Error(t, err)
}

func TestRNNHoldsStatePastLength(t *testing.T) {
	rnn, err := NewRNN(RNNConfig{Kind: KindGRU, InputSize: 1, HiddenSize: 2, Layers: 1})
	require.NoError(t, err)
	input := tensor.MustNew([]float64{0.5, -0.3, 0.2, 0.9, -0.7, 0.4}, 3, 2, 1)
	out, final, err := rnn.Forward(input, []int{3, 1}, State{})
	require.NoError(t, err)
	require.Equal(t, []int{3, 2, 2}, out.Shape())
	require.Equal(t, []int{1, 2, 2}, final.Shape())

	o := out.Data()
	for _, idx := range []int{6, 7, 10, 11} {
		require.Equal(t, 0.0, o[idx], "padded output %d", idx)
	}
	f := final.Hidden().Data()
	require.True(t, floatsAlmostEqual(f[2:4], o[2:4], 1e-12))
	require.True(t, floatsAlmostEqual(f[0:2], o[8:10], 1e-12))

	// the short row alone gives the same result
	alone, aloneFinal, err := rnn.Forward(tensor.MustNew([]float64{-0.3}, 1, 1, 1), nil, State{})
	require.NoError(t, err)
	require.True(t, floatsAlmostEqual(alone.Data(), o[2:4], 1e-12))
	require.True(t, floatsAlmostEqual(aloneFinal.Hidden().Data(), f[2:4], 1e-12))
}

func TestBidirectionalBackwardStartsAtLastValidStep(t *testing.T) {
	rnn, err := NewRNN(RNNConfig{Kind: KindRNN, InputSize: 1, HiddenSize: 1, Layers: 1, Bidirectional: true})
	require.NoError(t, err)
	input := tensor.MustNew([]float64{0.5, 0.1, -0.2, 0.3, 0.7, 0.6}, 3, 2, 1)
	out, final, err := rnn.Forward(input, []int{3, 2}, State{})
	require.NoError(t, err)
	require.Equal(t, []int{3, 2, 2}, out.Shape())
	require.Equal(t, []int{2, 2, 1}, final.Shape())

	bwd := rnn.Cell(0, 1)
	// row 0 spans all steps: backward reads 0.7, -0.2, 0.5
	rev, last := runCell(t, bwd, []float64{0.7, -0.2, 0.5}, ZeroState(false, 1, 1))
	o := out.Data()
	require.InDelta(t, rev[0], o[2*4+1], 1e-12)
	require.InDelta(t, rev[2], o[0*4+1], 1e-12)
	require.InDelta(t, last.Hidden().Data()[0], final.Hidden().Data()[2], 1e-12)

	// row 1 has length 2: backward reads 0.3 then 0.1
	short, shortLast := runCell(t, bwd, []float64{0.3, 0.1}, ZeroState(false, 1, 1))
	require.InDelta(t, short[0], o[1*4+3], 1e-12)
	require.InDelta(t, short[1], o[0*4+3], 1e-12)
	require.InDelta(t, shortLast.Hidden().Data()[0], final.Hidden().Data()[3], 1e-12)
	require.Equal(t, 0.0, o[2*4+3])
}

func TestMultiLayerFinalStateOrdering(t *testing.T) {
	rnn, err := NewRNN(RNNConfig{Kind: KindLSTM, InputSize: 2, HiddenSize: 3, Layers: 2, Bidirectional: true})
	require.NoError(t, err)
	input := tensor.Randn(4, 2, 2)
	out, final, err := rnn.Forward(input, nil, State{})
	require.NoError(t, err)
	require.True(t, final.IsDual())
	require.Equal(t, []int{4, 2, 3}, final.Shape())

	top, err := SliceState(final, 2)
	require.NoError(t, err)
	lastStep, err := tensor.Narrow(out, 0, 3, 1)
	require.NoError(t, err)
	fwd, err := tensor.Narrow(lastStep, 2, 0, 3)
	require.NoError(t, err)
	require.True(t, floatsAlmostEqual(top.Hidden().Data(), fwd.Data(), 1e-12))

	topBwd, err := SliceState(final, 3)
	require.NoError(t, err)
	firstStep, err := tensor.Narrow(out, 0, 0, 1)
	require.NoError(t, err)
	bwd, err := tensor.Narrow(firstStep, 2, 3, 3)
	require.NoError(t, err)
	require.True(t, floatsAlmostEqual(topBwd.Hidden().Data(), bwd.Data(), 1e-12))
}

func TestRNNRejectsMismatchedLengths(t *testing.T) {
	rnn, err := NewRNN(RNNConfig{Kind: KindGRU, InputSize: 1, HiddenSize: 1, Layers: 1})
	require.NoError(t, err)
	_, _, err = rnn.Forward(tensor.Zeros(2, 3, 1), []int{2, 2}, State{})
	require.Error(t, err)
	_, _, err = rnn.Forward(tensor.Zeros(2, 3, 1), nil, ZeroState(true, 1, 3, 1))
	require.Error(t, err)
}

func TestSRUMatchesReference(t *testing.T) {
	sru, err := NewSRU(RNNConfig{Kind: KindSRU, InputSize: 1, HiddenSize: 1, Layers: 1})
	require.NoError(t, err)
	proj := sru.dirs[0][0].proj
	mustSetData(t, proj.Weight(), []float64{0.6, -0.4, 0.9})
	mustSetData(t, proj.Bias(), []float64{0.1, 0.2, -0.3})

	inputs := []float64{0.2, -0.5, 0.7}
	out, final, err := sru.Forward(tensor.MustNew(inputs, 3, 1, 1), nil, State{})
	require.NoError(t, err)
	require.False(t, final.IsDual())

	c := 0.0
	want := make([]float64, len(inputs))
	for i, x := range inputs {
		xt := 0.6*x + 0.1
		f := sigmoid(-0.4*x + 0.2)
		r := sigmoid(0.9*x - 0.3)
		c = f*c + (1-f)*xt
		want[i] = r*math.Tanh(c) + (1-r)*x
	}
	require.True(t, floatsAlmostEqual(out.Data(), want, 1e-9), "got %v want %v", out.Data(), want)
	require.InDelta(t, c, final.Hidden().Data()[0], 1e-9)

	_, _, err = sru.Forward(tensor.MustNew(inputs, 3, 1, 1), []int{3}, State{})
	require.True(t, errors.Is(err, ErrNoPacking))
}

func TestSRUBidirectionalShapes(t *testing.T) {
	tr, err := NewTransducer(RNNConfig{Kind: KindSRU, InputSize: 3, HiddenSize: 2, Layers: 2, Bidirectional: true})
	require.NoError(t, err)
	out, final, err := tr.Forward(tensor.Randn(5, 2, 3), nil, State{})
	require.NoError(t, err)
	require.Equal(t, []int{5, 2, 4}, out.Shape())
	require.Equal(t, []int{4, 2, 2}, final.Shape())
}

func TestStackedCellStep(t *testing.T) {
	stack, err := NewStackedCell(KindLSTM, 2, 3, 4, 0)
	require.NoError(t, err)
	out, state, err := stack.Step(tensor.Randn(2, 3), ZeroState(true, 2, 2, 4))
	require.NoError(t, err)
	require.Equal(t, []int{2, 4}, out.Shape())
	require.Equal(t, []int{2, 2, 4}, state.Shape())
	top, err := SliceState(state, 1)
	require.NoError(t, err)
	require.Equal(t, out.Data(), top.Hidden().Data())

	_, err = NewStackedCell(KindSRU, 1, 3, 4, 0)
	require.True(t, errors.Is(err, ErrUnsupportedKind))
}

func TestParseCellKind(t *testing.T) {
	k, err := ParseCellKind("lstm")
	require.NoError(t, err)
	require.Equal(t, KindLSTM, k)
	require.True(t, k.Dual())
	require.False(t, KindSRU.Steppable())
	_, err = ParseCellKind("transformer")
	require.True(t, errors.Is(err, ErrUnsupportedKind))
}

func simpleRNNReference(inputs []float64, wIH, wHH, bIH, bHH float64) ([]float64, float64) {
	outputs := make([]float64, len(inputs))
	h := 0.0
	for i, x := range inputs {
		h = math.Tanh(x*wIH + h*wHH + bIH + bHH)
		outputs[i] = h
	}
	return outputs, h
}

func gruReference(inputs []float64, wIZ, wHZ, wIR, wHR, wIN, wHN float64) ([]float64, float64) {
	outputs := make([]float64, len(inputs))
	h := 0.0
	for i, x := range inputs {
		z := sigmoid(x*wIZ + h*wHZ)
		r := sigmoid(x*wIR + h*wHR)
		n := math.Tanh(x*wIN + (r*h)*wHN)
		h = (1-z)*n + z*h
		outputs[i] = h
	}
	return outputs, h
}

func lstmReference(inputs []float64, wIH, wHH [lstmGateTotal]float64) ([]float64, float64, float64) {
	outputs := make([]float64, len(inputs))
	h := 0.0
	c := 0.0
	for i, x := range inputs {
		iGate := sigmoid(x*wIH[lstmGateInput] + h*wHH[lstmGateInput])
		fGate := sigmoid(x*wIH[lstmGateForget] + h*wHH[lstmGateForget])
		gGate := math.Tanh(x*wIH[lstmGateCell] + h*wHH[lstmGateCell])
		oGate := sigmoid(x*wIH[lstmGateOutput] + h*wHH[lstmGateOutput])
		c = fGate*c + iGate*gGate
		h = oGate * math.Tanh(c)
		outputs[i] = h
	}
	return outputs, h, c
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
