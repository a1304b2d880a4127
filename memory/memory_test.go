package memory

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

const dim = 4

func embeddings(t *testing.T) *nn.Embeddings {
	t.Helper()
	emb, err := nn.NewEmbeddings(nn.EmbeddingsConfig{VocabSize: 20, Dim: dim, PadIndex: 0})
	require.NoError(t, err)
	return emb
}

func words(t *testing.T, steps, batch int) *tensor.Tensor {
	t.Helper()
	ids := make([]int, steps*batch)
	for i := range ids {
		ids[i] = 1 + (i*7)%19
	}
	out, err := tensor.FromInts(ids, steps, batch, 1)
	require.NoError(t, err)
	return out
}

func corpus(t *testing.T, docs int) *Corpus {
	t.Helper()
	c, err := NewCorpus(tensor.Randn(docs, dim))
	require.NoError(t, err)
	return c
}

func rows(t *testing.T, x *tensor.Tensor) [][]float64 {
	t.Helper()
	data := x.Data()
	width := x.Dim(1)
	out := make([][]float64, x.Dim(0))
	for r := range out {
		out[r] = data[r*width : (r+1)*width]
	}
	return out
}

func TestDenseReadOverTenDocuments(t *testing.T) {
	emb := embeddings(t)
	l, err := New(Config{Embeddings: emb}, corpus(t, 10))
	require.NoError(t, err)
	require.Equal(t, RankDense, l.Ranking())

	out, weights, err := l.Read(words(t, 3, 4))
	require.NoError(t, err)
	require.Equal(t, []int{4, dim}, out.Shape())
	require.Equal(t, []int{4, 10}, weights.Shape())
	for _, row := range rows(t, weights) {
		require.InDelta(t, 1.0, floats.Sum(row), 1e-9)
		require.Greater(t, floats.Min(row), 0.0)
	}
}

func TestReadIsWeightedSumOfValues(t *testing.T) {
	c := corpus(t, 5)
	l, err := New(Config{Embeddings: embeddings(t)}, c)
	require.NoError(t, err)
	out, weights, err := l.Read(words(t, 2, 2))
	require.NoError(t, err)

	docs := rows(t, c.Vectors())
	for b, w := range rows(t, weights) {
		want := make([]float64, dim)
		for d, doc := range docs {
			floats.AddScaled(want, w[d], doc)
		}
		require.Empty(t, cmp.Diff(want, rows(t, out)[b], cmpopts.EquateApprox(0, 1e-9)))
	}
}

func TestTopKKeepsBestDocuments(t *testing.T) {
	emb := embeddings(t)
	c := corpus(t, 10)
	dense, err := New(Config{Embeddings: emb}, c)
	require.NoError(t, err)
	topk, err := New(Config{Embeddings: emb, Ranking: RankTopK, TopK: 3}, c)
	require.NoError(t, err)

	in := words(t, 3, 4)
	_, denseWeights, err := dense.Read(in)
	require.NoError(t, err)
	out, weights, err := topk.Read(in)
	require.NoError(t, err)
	require.Equal(t, []int{4, dim}, out.Shape())

	denseRows := rows(t, denseWeights)
	for b, row := range rows(t, weights) {
		require.InDelta(t, 1.0, floats.Sum(row), 1e-9)
		order := make([]int, len(row))
		floats.Argsort(append([]float64(nil), denseRows[b]...), order)
		kept := map[int]bool{order[7]: true, order[8]: true, order[9]: true}
		var keptMass float64
		for d, w := range row {
			if kept[d] {
				require.Greater(t, w, 0.0)
				keptMass += denseRows[b][d]
			} else {
				require.Zero(t, w)
			}
		}
		for d := range kept {
			require.InDelta(t, denseRows[b][d]/keptMass, row[d], 1e-9)
		}
	}
}

func TestReadGradientsReachCorpusViews(t *testing.T) {
	l, err := New(Config{Embeddings: embeddings(t)}, corpus(t, 6))
	require.NoError(t, err)
	out, _, err := l.Read(words(t, 2, 3))
	require.NoError(t, err)
	require.NoError(t, tensor.Sum(out).Backward())
	for _, p := range l.Parameters() {
		require.NotNil(t, p.Grad())
	}
	l.ZeroGrad()
	for _, p := range l.Parameters() {
		require.Nil(t, p.Grad())
	}
}

func TestEncodeCorpusAveragesValidTokens(t *testing.T) {
	emb := embeddings(t)
	docs, err := tensor.FromInts([]int{
		3, 5,
		4, 0,
		9, 0,
	}, 3, 2, 1)
	require.NoError(t, err)
	c, err := EncodeCorpus(emb, docs, []int{3, 1})
	require.NoError(t, err)
	require.Equal(t, 2, c.Size())
	require.Equal(t, dim, c.Dim())

	table := rows(t, emb.WordTable().Weight())
	want0 := make([]float64, dim)
	floats.Add(want0, table[3])
	floats.Add(want0, table[4])
	floats.Add(want0, table[9])
	floats.Scale(1.0/3, want0)
	got := rows(t, c.Vectors())
	require.Empty(t, cmp.Diff(want0, got[0], cmpopts.EquateApprox(0, 1e-9)))
	require.Empty(t, cmp.Diff(table[5], got[1], cmpopts.EquateApprox(0, 1e-9)))
	require.False(t, c.Vectors().RequiresGrad())
}

func TestNewValidates(t *testing.T) {
	emb := embeddings(t)
	_, err := New(Config{Embeddings: emb}, &Corpus{vectors: tensor.Zeros(3, dim+1)})
	require.True(t, errors.Is(err, check.ErrShapeMismatch))
	_, err = New(Config{Embeddings: emb, Ranking: RankTopK, TopK: 11}, corpus(t, 10))
	require.Error(t, err)
	_, err = New(Config{Embeddings: emb, Ranking: "sparse"}, corpus(t, 10))
	require.True(t, errors.Is(err, ErrUnknownRanking))
	_, err = NewCorpus(tensor.Zeros(4))
	require.True(t, errors.Is(err, check.ErrShapeMismatch))
	_, err = EncodeCorpus(emb, words(t, 2, 3), []int{1, 2})
	require.True(t, errors.Is(err, check.ErrShapeMismatch))
}
