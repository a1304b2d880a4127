package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/fumitoshi0524/ixeoriNMT/decoder"
	"github.com/fumitoshi0524/ixeoriNMT/encoder"
	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/loss"
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func tokens(t *testing.T, rows [][]int, steps, pad int) *tensor.Tensor {
	t.Helper()
	batch := len(rows)
	ids := make([]int, steps*batch)
	for i := range ids {
		ids[i] = pad
	}
	for b, row := range rows {
		for s, id := range row {
			ids[s*batch+b] = id
		}
	}
	out, err := tensor.FromInts(ids, steps, batch, 1)
	require.NoError(t, err)
	return out
}

func smallOptions() Options {
	o := DefaultOptions()
	o.EncoderLayers = 1
	o.DecoderLayers = 1
	o.RNNSize = 4
	o.WordVecSize = 4
	o.SrcVocabSize = 12
	o.TgtVocabSize = 12
	return o
}

// weight reads attn[t, b, s] from a [tgt, batch, src] tensor.
func weight(attn *tensor.Tensor, step, row, pos int) float64 {
	batch, src := attn.Dim(1), attn.Dim(2)
	return attn.Data()[(step*batch+row)*src+pos]
}

func TestNMTModelMeanEncoder(t *testing.T) {
	o := smallOptions()
	o.EncoderType = string(encoder.KindMean)
	m, err := BuildNMT(o, nil)
	require.NoError(t, err)

	src := tokens(t, [][]int{{1, 2, 3}, {4, 5, 6, 7, 8}}, 5, 0)
	tgt := tokens(t, [][]int{{1, 2, 3, 4}, {5, 6, 7, 8}}, 4, 0)
	out, err := m.Forward(src, tgt, []int{3, 5}, decoder.State{})
	require.NoError(t, err)
	require.Equal(t, []int{3, 2, 4}, out.Outputs.Shape())

	attns, err := out.Attentions()
	require.NoError(t, err)
	std := attns[decoder.AttnStd]
	require.Equal(t, []int{3, 2, 5}, std.Shape())
	for step := 0; step < 3; step++ {
		require.Zero(t, weight(std, step, 0, 3))
		require.Zero(t, weight(std, step, 0, 4))
		sum := 0.0
		for s := 0; s < 5; s++ {
			sum += weight(std, step, 1, s)
		}
		require.InDelta(t, 1.0, sum, 1e-9)
	}

	state, err := out.State()
	require.NoError(t, err)
	require.Equal(t, 2, state.BatchSize())
	require.Equal(t, []int{1, 2, 4}, state.InputFeed().Shape())
}

func TestNMTModelRejectsShortTarget(t *testing.T) {
	m, err := BuildNMT(smallOptions(), nil)
	require.NoError(t, err)
	src := tokens(t, [][]int{{1, 2}}, 2, 0)
	tgt := tokens(t, [][]int{{1}}, 1, 0)
	_, err = m.Forward(src, tgt, []int{2}, decoder.State{})
	require.True(t, errors.Is(err, check.ErrShapeMismatch))
}

func TestNMTModelContinuesFromState(t *testing.T) {
	m, err := BuildNMT(smallOptions(), nil)
	require.NoError(t, err)
	src := tokens(t, [][]int{{1, 2, 3}, {4, 5}}, 3, 0)
	tgt := tokens(t, [][]int{{1, 2, 3}, {4, 5, 6}}, 3, 0)
	first, err := m.Forward(src, tgt, []int{3, 2}, decoder.State{})
	require.NoError(t, err)
	state, err := first.State()
	require.NoError(t, err)

	second, err := m.Forward(src, tgt, []int{3, 2}, state.Detach())
	require.NoError(t, err)
	require.Equal(t, first.Outputs.Shape(), second.Outputs.Shape())
	require.NotEmpty(t, cmp.Diff(first.Outputs.Data(), second.Outputs.Data()))
}

func TestMultiGPUOutputIsDegraded(t *testing.T) {
	o := smallOptions()
	o.MultiGPU = true
	m, err := BuildNMT(o, nil)
	require.NoError(t, err)
	src := tokens(t, [][]int{{1, 2}, {3, 4}}, 2, 0)
	tgt := tokens(t, [][]int{{1, 2}, {3, 4}}, 2, 0)
	out, err := m.Forward(src, tgt, []int{2, 2}, decoder.State{})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 4}, out.Outputs.Shape())
	_, err = out.State()
	require.True(t, errors.Is(err, ErrUnavailable))
	_, err = out.Attentions()
	require.True(t, errors.Is(err, ErrUnavailable))
}

func TestTrainingStepReachesEveryModule(t *testing.T) {
	m, err := BuildNMT(smallOptions(), nil)
	require.NoError(t, err)
	src := tokens(t, [][]int{{1, 2, 3}, {4, 5}}, 3, 0)
	tgt := tokens(t, [][]int{{1, 2, 3}, {4, 5, 0}}, 3, 0)
	out, err := m.Forward(src, tgt, []int{3, 2}, decoder.State{})
	require.NoError(t, err)
	logProbs, err := m.Generator().Forward(out.Outputs)
	require.NoError(t, err)
	gold, err := tensor.Narrow(tgt, 0, 1, 2)
	require.NoError(t, err)
	nll, count, err := loss.SequenceNLL(logProbs, gold, 0)
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.NoError(t, nll.Backward())

	for _, mod := range []nn.Module{m.Encoder(), m.Decoder(), m.Generator()} {
		reached := false
		for _, p := range mod.Parameters() {
			if p.Grad() != nil {
				reached = true
			}
		}
		require.True(t, reached)
	}
	m.ZeroGrad()
	for _, p := range m.Parameters() {
		require.Nil(t, p.Grad())
	}
}

func TestMergeOrder(t *testing.T) {
	got := mergeOrder(3, 2, []int{1, 3}, []int{2, 0})
	require.Empty(t, cmp.Diff([][]int{{0, 3, 4, 1, 2}, {0, 1, 2, 3, 4}}, got))
}

func TestPermuteTime(t *testing.T) {
	data := make([]float64, 10)
	for step := 0; step < 5; step++ {
		for b := 0; b < 2; b++ {
			data[step*2+b] = float64(step*10 + b)
		}
	}
	x := tensor.MustNew(data, 5, 2, 1)
	got, err := permuteTime(x, mergeOrder(3, 2, []int{1, 3}, []int{2, 0}))
	require.NoError(t, err)
	require.Equal(t, []int{5, 2, 1}, got.Shape())
	require.Empty(t, cmp.Diff([]float64{0, 1, 30, 11, 40, 21, 10, 31, 20, 41}, got.Data()))
}

func twoEncoderOptions() Options {
	o := smallOptions()
	o.TwoEncoder = true
	return o
}

func TestTwoEncoderSingleStream(t *testing.T) {
	m, err := BuildTwoEncoder(twoEncoderOptions(), nil, nil)
	require.NoError(t, err)

	src := tokens(t, [][]int{{1, 2}, {3, 4, 5}}, 3, 0)
	conv := tokens(t, [][]int{{6, 7}, {8}}, 2, 0)
	tgt := tokens(t, [][]int{{1, 2, 3}, {4, 5, 6}}, 3, 0)
	out, err := m.Forward(src, conv, tgt, []int{2, 3}, []int{2, 1}, decoder.State{})
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 4}, out.Outputs.Shape())

	attns, err := out.Attentions()
	require.NoError(t, err)
	std := attns[decoder.AttnStd]
	require.Equal(t, []int{2, 2, 5}, std.Shape())
	for step := 0; step < 2; step++ {
		require.Zero(t, weight(std, step, 0, 4))
		require.Zero(t, weight(std, step, 1, 4))
	}

	// Padding ids do not leak into the result.
	src2 := tokens(t, [][]int{{1, 2}, {3, 4, 5}}, 3, 9)
	conv2 := tokens(t, [][]int{{6, 7}, {8}}, 2, 9)
	again, err := m.Forward(src2, conv2, tgt, []int{2, 3}, []int{2, 1}, decoder.State{})
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(out.Outputs.Data(), again.Outputs.Data(), approx))
}

func TestTwoEncoderPairStream(t *testing.T) {
	o := twoEncoderOptions()
	o.EncoderType = string(encoder.KindBiAttention)
	o.Bidirectional = true
	o.EncoderLayers = 2
	m, err := BuildTwoEncoder(o, nil, nil)
	require.NoError(t, err)

	src := tokens(t, [][]int{{1, 2, 3}, {4, 5}}, 3, 0)
	conv := tokens(t, [][]int{{6}, {7, 8}}, 2, 0)
	tgt := tokens(t, [][]int{{1, 2, 3}, {4, 5, 6}}, 3, 0)
	out, err := m.Forward(src, conv, tgt, []int{3, 2}, []int{1, 2}, decoder.State{})
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 4}, out.Outputs.Shape())

	attns, err := out.Attentions()
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 5}, attns[decoder.AttnStd].Shape())
	for step := 0; step < 2; step++ {
		require.Zero(t, weight(attns[decoder.AttnStd], step, 0, 4))
		require.Zero(t, weight(attns[decoder.AttnStd], step, 1, 4))
	}
}

func TestTwoEncoderWithMemory(t *testing.T) {
	o := twoEncoderOptions()
	o.Memory = true
	docs := &Documents{
		Tokens:  tokens(t, [][]int{{1, 2}, {3}, {4, 5, 6}, {7, 8}}, 3, 0),
		Lengths: []int{2, 1, 3, 2},
	}
	m, err := BuildTwoEncoder(o, docs, nil)
	require.NoError(t, err)
	require.NotNil(t, m.Memory())
	require.Equal(t, 4, m.Memory().Dim())

	src := tokens(t, [][]int{{1, 2}, {3, 4}}, 2, 0)
	conv := tokens(t, [][]int{{5}, {6, 7}}, 2, 0)
	tgt := tokens(t, [][]int{{1, 2}, {3, 4}}, 2, 0)
	out, err := m.Forward(src, conv, tgt, []int{2, 2}, []int{1, 2}, decoder.State{})
	require.NoError(t, err)
	require.NoError(t, tensor.Sum(out.Outputs).Backward())
	for _, p := range m.Memory().Parameters() {
		require.NotNil(t, p.Grad())
	}

	_, err = BuildTwoEncoder(o, nil, nil)
	require.Error(t, err)
}

func TestTwoEncoderChecksStreams(t *testing.T) {
	m, err := BuildTwoEncoder(twoEncoderOptions(), nil, nil)
	require.NoError(t, err)
	src := tokens(t, [][]int{{1, 2}, {3, 4}}, 2, 0)
	conv := tokens(t, [][]int{{5}}, 1, 0)
	tgt := tokens(t, [][]int{{1, 2}, {3, 4}}, 2, 0)
	_, err = m.Forward(src, conv, tgt, []int{2, 2}, []int{1}, decoder.State{})
	require.True(t, errors.Is(err, check.ErrShapeMismatch))
}

func TestNewTwoEncoderModelNeedsOneEncoder(t *testing.T) {
	_, err := NewTwoEncoderModel(TwoEncoderConfig{})
	require.Error(t, err)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
		want   error
	}{
		{"defaults", func(*Options) {}, nil},
		{"unknown encoder", func(o *Options) { o.EncoderType = "cnn" }, encoder.ErrUnknownKind},
		{"unknown cell", func(o *Options) { o.RNNType = "tree" }, nn.ErrUnsupportedKind},
		{"coverage without input feed", func(o *Options) { o.InputFeed = false; o.CoverageAttn = true }, decoder.ErrCoverageUnsupported},
		{"copy without input feed", func(o *Options) { o.InputFeed = false; o.CopyAttn = true }, decoder.ErrCopyUnsupported},
		{"sru with input feed", func(o *Options) { o.RNNType = "SRU" }, decoder.ErrNotSteppable},
		{"mean size", func(o *Options) { o.EncoderType = "mean"; o.WordVecSize = 3 }, check.ErrShapeMismatch},
		{"layers without bridge", func(o *Options) { o.EncoderLayers = 2 }, check.ErrShapeMismatch},
		{"layers with bridge", func(o *Options) { o.EncoderLayers = 2; o.Bridge = true }, nil},
		{"memory size", func(o *Options) { o.TwoEncoder = true; o.Memory = true; o.WordVecSize = 6 }, check.ErrShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := smallOptions()
			tt.modify(&o)
			err := o.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	o := smallOptions()
	o.Bidirectional = true
	o.RNNSize = 5
	o.WordVecSize = 5
	require.Error(t, o.Validate())

	o = smallOptions()
	o.EncoderType = string(encoder.KindBiAttention)
	require.Error(t, o.Validate())

	o = smallOptions()
	o.Memory = true
	require.Error(t, o.Validate())
}

func TestBuildersCheckMode(t *testing.T) {
	_, err := BuildNMT(twoEncoderOptions(), nil)
	require.Error(t, err)
	_, err = BuildTwoEncoder(smallOptions(), nil, nil)
	require.Error(t, err)
}
