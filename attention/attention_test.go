package attention

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

func rowSums(t *testing.T, dist *tensor.Tensor) []float64 {
	t.Helper()
	cols := dist.Dim(-1)
	data := dist.Data()
	sums := make([]float64, len(data)/cols)
	for i := range sums {
		sums[i] = floats.Sum(data[i*cols : (i+1)*cols])
	}
	return sums
}

func TestGlobalOneStepMasksPadding(t *testing.T) {
	for _, score := range []ScoreKind{ScoreDot, ScoreGeneral, ScoreMLP} {
		t.Run(string(score), func(t *testing.T) {
			attn, err := NewGlobal(4, score, false)
			require.NoError(t, err)
			query := tensor.Randn(2, 4)
			memory := tensor.Randn(2, 5, 4)
			out, dist, err := attn.Attend(query, memory, []int{5, 2}, nil)
			require.NoError(t, err)
			require.Equal(t, []int{2, 4}, out.Shape())
			require.Equal(t, []int{2, 5}, dist.Shape())
			d := dist.Data()
			for _, idx := range []int{7, 8, 9} {
				require.Equal(t, 0.0, d[idx])
			}
			for _, s := range rowSums(t, dist) {
				require.InDelta(t, 1.0, s, 1e-9)
			}
		})
	}
}

func TestGlobalSequenceQueryIsTimeMajor(t *testing.T) {
	attn, err := NewGlobal(3, ScoreGeneral, false)
	require.NoError(t, err)
	out, dist, err := attn.Attend(tensor.Randn(2, 4, 3), tensor.Randn(2, 6, 3), []int{6, 3}, nil)
	require.NoError(t, err)
	require.Equal(t, []int{4, 2, 3}, out.Shape())
	require.Equal(t, []int{4, 2, 6}, dist.Shape())
	d := dist.Data()
	for step := 0; step < 4; step++ {
		row := d[(step*2+1)*6 : (step*2+2)*6]
		require.Equal(t, []float64{0, 0, 0}, row[3:])
	}
}

func TestGlobalDotMatchesHandComputation(t *testing.T) {
	attn, err := NewGlobal(2, ScoreDot, false)
	require.NoError(t, err)
	query := tensor.MustNew([]float64{1, 0}, 1, 2)
	memory := tensor.MustNew([]float64{2, 0, 0, 1}, 1, 2, 2)
	_, dist, err := attn.Attend(query, memory, nil, nil)
	require.NoError(t, err)
	e2 := math.Exp(2)
	require.InDelta(t, e2/(e2+1), dist.Data()[0], 1e-12)
	require.InDelta(t, 1/(e2+1), dist.Data()[1], 1e-12)
}

func TestGlobalCoverageInput(t *testing.T) {
	attn, err := NewGlobal(3, ScoreDot, true)
	require.NoError(t, err)
	coverage := tensor.MustNew([]float64{0.2, 0.5, 0.3, 0, 1, 0}, 2, 3)
	_, dist, err := attn.Attend(tensor.Randn(2, 3), tensor.Randn(2, 3, 3), []int{3, 3}, coverage)
	require.NoError(t, err)
	for _, s := range rowSums(t, dist) {
		require.InDelta(t, 1.0, s, 1e-9)
	}

	plain, err := NewGlobal(3, ScoreDot, false)
	require.NoError(t, err)
	_, _, err = plain.Attend(tensor.Randn(2, 3), tensor.Randn(2, 3, 3), nil, coverage)
	require.Error(t, err)
}

func TestGlobalRejectsBatchMismatch(t *testing.T) {
	attn, err := NewGlobal(3, ScoreDot, false)
	require.NoError(t, err)
	_, _, err = attn.Attend(tensor.Randn(2, 3), tensor.Randn(3, 4, 3), nil, nil)
	require.Error(t, err)
	_, err = NewGlobal(3, "bilinear", false)
	require.True(t, errors.Is(err, ErrUnknownScore))
}

func TestGlobalBackwardReachesParameters(t *testing.T) {
	attn, err := NewGlobal(3, ScoreMLP, false)
	require.NoError(t, err)
	memory := tensor.Randn(2, 4, 3)
	memory.SetRequiresGrad(true)
	out, _, err := attn.Attend(tensor.Randn(2, 3), memory, []int{4, 2}, nil)
	require.NoError(t, err)
	require.NoError(t, tensor.Sum(out).Backward())
	require.NotNil(t, memory.Grad())
	for _, p := range attn.Parameters() {
		require.NotNil(t, p.Grad())
	}
	// padded memory rows receive no gradient
	g := memory.Grad().Data()
	require.Equal(t, []float64{0, 0, 0, 0, 0, 0}, g[18:24])
}

func TestContextGateKinds(t *testing.T) {
	for _, kind := range []GateKind{GateSource, GateTarget, GateBoth} {
		gate, err := NewContextGate(kind, 2, 3, 3, 3)
		require.NoError(t, err)
		out, err := gate.Forward(tensor.Randn(4, 2), tensor.Randn(4, 3), tensor.Randn(4, 3))
		require.NoError(t, err)
		require.Equal(t, []int{4, 3}, out.Shape())
		for _, v := range out.Data() {
			require.True(t, v > -1 && v < 1)
		}
		seq, err := gate.Forward(tensor.Randn(5, 4, 2), tensor.Randn(5, 4, 3), tensor.Randn(5, 4, 3))
		require.NoError(t, err)
		require.Equal(t, []int{5, 4, 3}, seq.Shape())
	}
	_, err := ParseGateKind("neither")
	require.True(t, errors.Is(err, ErrUnknownGate))
}
