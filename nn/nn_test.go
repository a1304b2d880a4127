package nn

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/fumitoshi0524/ixeoriNMT/optim"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

func floatsAlmostEqual(a, b []float64, tol float64) bool {
	return cmp.Equal(a, b, cmpopts.EquateApprox(0, tol))
}

func mustSetData(t *testing.T, tt *tensor.Tensor, vals []float64) {
	t.Helper()
	require.NotNil(t, tt)
	require.NoError(t, tt.SetData(vals))
}

func TestLinearOverTimeMajorInput(t *testing.T) {
	lin := NewLinear(2, 1, true)
	mustSetData(t, lin.Weight(), []float64{1, -1})
	mustSetData(t, lin.Bias(), []float64{0.5})

	x := tensor.MustNew([]float64{1, 2, 3, 1, 0, 0, 5, 5}, 2, 2, 2)
	out, err := lin.Forward(x)
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 1}, out.Shape())
	require.True(t, floatsAlmostEqual(out.Data(), []float64{-0.5, 2.5, 0.5, 0.5}, 1e-12))

	_, err = lin.Forward(tensor.Zeros(2, 3))
	require.Error(t, err)
}

func TestSequentialForwardBackward(t *testing.T) {
	linear1 := NewLinear(3, 2, true)
	mustSetData(t, linear1.Weight(), []float64{
		0.5, -1.0, 1.5,
		-0.25, 0.75, -0.5,
	})
	mustSetData(t, linear1.Bias(), []float64{0.1, -0.2})
	linear2 := NewLinear(2, 1, true)
	mustSetData(t, linear2.Weight(), []float64{0.6, -1.2})
	mustSetData(t, linear2.Bias(), []float64{0.05})
	model := NewSequential(linear1, Relu(), linear2)

	inputs := tensor.MustNew([]float64{
		1, 0, -1,
		2, 1, 0,
	}, 2, 3)
	out, err := model.Forward(inputs)
	require.NoError(t, err)
	// row 0: relu([-0.9, 0.05]) = [0, 0.05] -> -0.06 + 0.05
	require.InDelta(t, -0.01, out.Data()[0], 1e-9)

	require.NoError(t, tensor.Sum(out).Backward())
	for _, p := range model.Parameters() {
		require.NotNil(t, p.Grad())
	}
	ZeroGradAll(model)
	require.Nil(t, linear1.Weight().Grad())
	require.Nil(t, linear2.Weight().Grad())
}

func TestSequentialStateDictAndLoad(t *testing.T) {
	model := NewSequential(NewLinear(3, 2, true), Relu(), NewLinear(2, 1, true))
	state := map[string]*tensor.Tensor{}
	model.StateDict("", state)
	require.Len(t, state, 4)
	require.Contains(t, state, "0.weight")
	require.Contains(t, state, "2.bias")

	clone := NewSequential(NewLinear(3, 2, true), Relu(), NewLinear(2, 1, true))
	require.NoError(t, clone.LoadState("", state))
	orig, loaded := model.Parameters(), clone.Parameters()
	require.Len(t, loaded, len(orig))
	for i := range orig {
		require.True(t, floatsAlmostEqual(orig[i].Data(), loaded[i].Data(), 1e-12), "param %d", i)
	}
}

func TestSaveAndLoadModule(t *testing.T) {
	lin := NewLinear(2, 2, true)
	mustSetData(t, lin.Weight(), []float64{0.1, -0.2, 0.3, -0.4})
	mustSetData(t, lin.Bias(), []float64{0.05, -0.05})
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, SaveModule(path, lin))

	mustSetData(t, lin.Weight(), []float64{1, 1, 1, 1})
	mustSetData(t, lin.Bias(), []float64{1, 1})
	require.NoError(t, LoadModule(path, lin))
	require.True(t, floatsAlmostEqual(lin.Weight().Data(), []float64{0.1, -0.2, 0.3, -0.4}, 1e-12))
	require.True(t, floatsAlmostEqual(lin.Bias().Data(), []float64{0.05, -0.05}, 1e-12))

	require.Error(t, SaveModule(filepath.Join(t.TempDir(), "stateless.json"), Relu()))
}

func TestDropoutTrainVsEval(t *testing.T) {
	d := NewDropout(0.5)
	input := tensor.MustNew([]float64{1, 2, 3, 4}, 2, 2)
	trainOut, err := d.Forward(input)
	require.NoError(t, err)
	for i, v := range trainOut.Data() {
		if v != 0 {
			require.InDelta(t, input.Data()[i]*2, v, 1e-9)
		}
	}
	SetTraining(false, d)
	evalOut, err := d.Forward(input)
	require.NoError(t, err)
	require.Equal(t, input.Data(), evalOut.Data())
}

func TestEmbeddingsConcatenateFeatures(t *testing.T) {
	emb, err := NewEmbeddings(EmbeddingsConfig{
		VocabSize:         6,
		Dim:               4,
		PadIndex:          1,
		FeatureVocabSizes: []int{3},
		FeatureDim:        2,
	})
	require.NoError(t, err)
	require.Equal(t, 6, emb.EmbeddingSize())
	require.Equal(t, 2, emb.Channels())

	ids, err := tensor.FromInts([]int{
		2, 0, 1, 2,
		3, 1, 1, 0,
		5, 2, 4, 1,
	}, 3, 2, 2)
	require.NoError(t, err)
	out, err := emb.Forward(ids)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2, 6}, out.Shape())

	// pad row of the word table starts at zero
	word := out.Data()[6:10]
	require.Equal(t, []float64{0, 0, 0, 0}, word)

	_, err = emb.Forward(tensor.Zeros(3, 2, 1))
	require.Error(t, err)
}

func TestEmbeddingRejectsOutOfRange(t *testing.T) {
	emb := NewEmbedding(3, 2, -1)
	_, err := emb.Forward(tensor.MustNew([]float64{3}, 1))
	require.Error(t, err)
	for _, v := range emb.Weight().Data() {
		require.False(t, math.IsNaN(v))
	}
}

func TestEmbeddingPadRowStaysZeroAfterStep(t *testing.T) {
	emb := NewEmbedding(4, 3, 0)
	ids := tensor.MustNew([]float64{2, 3, 0, 0}, 2, 2)
	out, err := emb.Forward(ids)
	require.NoError(t, err)
	require.NoError(t, tensor.Sum(out).Backward())

	grad := emb.Weight().Grad().Data()
	require.Equal(t, []float64{0, 0, 0}, grad[0:3])
	require.Equal(t, []float64{1, 1, 1}, grad[6:9])

	require.NoError(t, optim.NewSGD(emb.Parameters(), 0.5, 0).Step())
	require.Equal(t, []float64{0, 0, 0}, emb.Weight().Data()[0:3])
}
