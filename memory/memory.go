// Package memory reads an external store of pre-encoded documents with soft
// attention, producing one vector per batch row that can be added to an
// encoder's memory bank.
package memory

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// Ranking selects which documents a lookup reads from.
type Ranking string

const (
	// RankDense reads every document.
	RankDense Ranking = "dense"
	// RankTopK renormalizes over the TopK best scoring documents only.
	RankTopK Ranking = "topk"
)

var ErrUnknownRanking = errors.New("unknown memory ranking")

func ParseRanking(s string) (Ranking, error) {
	switch r := Ranking(s); r {
	case RankDense, RankTopK:
		return r, nil
	case "":
		return RankDense, nil
	}
	return "", errors.Wrapf(ErrUnknownRanking, "%q", s)
}

// Corpus is a fixed [docs, dim] matrix of document vectors.
type Corpus struct {
	vectors *tensor.Tensor
}

func NewCorpus(vectors *tensor.Tensor) (*Corpus, error) {
	if vectors.Rank() != 2 || vectors.Dim(0) == 0 {
		return nil, errors.Wrapf(check.ErrShapeMismatch, "corpus must be [docs, dim], got %v", vectors.Shape())
	}
	return &Corpus{vectors: vectors.Detach()}, nil
}

// EncodeCorpus embeds [time, docs, channels] token ids and averages each
// document over its first lengths[d] positions.
func EncodeCorpus(emb *nn.Embeddings, docs *tensor.Tensor, lengths []int) (*Corpus, error) {
	if docs.Rank() != 3 {
		return nil, errors.Wrapf(check.ErrShapeMismatch, "documents must be [time, docs, channels], got %v", docs.Shape())
	}
	steps, n, dim := docs.Dim(0), docs.Dim(1), emb.EmbeddingSize()
	if err := check.Lengths(lengths, n, steps); err != nil {
		return nil, err
	}
	embedded, err := emb.Forward(docs)
	if err != nil {
		return nil, err
	}
	mask, err := tensor.SequenceMask(lengths, steps)
	if err != nil {
		return nil, err
	}
	if mask, err = tensor.Transpose(mask); err != nil {
		return nil, err
	}
	if mask, err = tensor.Expand(mask, 2, dim); err != nil {
		return nil, err
	}
	kept, err := tensor.Mul(embedded, mask)
	if err != nil {
		return nil, err
	}
	sum, err := tensor.SumAxis(kept, 0)
	if err != nil {
		return nil, err
	}
	counts := make([]float64, n*dim)
	for d, l := range lengths {
		for j := 0; j < dim; j++ {
			counts[d*dim+j] = float64(l)
		}
	}
	mean, err := tensor.Div(sum, tensor.MustNew(counts, n, dim))
	if err != nil {
		return nil, err
	}
	return NewCorpus(mean)
}

func (c *Corpus) Size() int { return c.vectors.Dim(0) }

func (c *Corpus) Dim() int { return c.vectors.Dim(1) }

func (c *Corpus) Vectors() *tensor.Tensor { return c.vectors.Clone() }

type Config struct {
	Ranking Ranking
	TopK    int
	// Embeddings must be the table the model embeds its source with.
	Embeddings *nn.Embeddings
	Logger     *zap.Logger
}

// Lookup holds two learned views of the corpus, both initialized from it:
// keys [dim, docs] to score documents and values [docs, dim] to read them.
type Lookup struct {
	embeddings *nn.Embeddings
	keys       *tensor.Tensor
	values     *tensor.Tensor
	ranking    Ranking
	topK       int
	logger     *zap.Logger
}

func New(cfg Config, corpus *Corpus) (*Lookup, error) {
	if cfg.Embeddings == nil || corpus == nil {
		return nil, errors.New("memory lookup needs embeddings and a corpus")
	}
	if err := check.Equal("corpus dim vs embedding size", corpus.Dim(), cfg.Embeddings.EmbeddingSize()); err != nil {
		return nil, err
	}
	ranking, err := ParseRanking(string(cfg.Ranking))
	if err != nil {
		return nil, err
	}
	if ranking == RankTopK && (cfg.TopK < 1 || cfg.TopK > corpus.Size()) {
		return nil, errors.Errorf("top-k %d outside [1, %d]", cfg.TopK, corpus.Size())
	}
	keys, err := tensor.Transpose(corpus.vectors)
	if err != nil {
		return nil, err
	}
	keys = keys.Detach()
	keys.SetRequiresGrad(true)
	values := corpus.vectors.Clone()
	values.SetRequiresGrad(true)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("built memory lookup",
		zap.Int("docs", corpus.Size()),
		zap.Int("dim", corpus.Dim()),
		zap.String("ranking", string(ranking)),
		zap.Int("top_k", cfg.TopK))
	return &Lookup{
		embeddings: cfg.Embeddings,
		keys:       keys,
		values:     values,
		ranking:    ranking,
		topK:       cfg.TopK,
		logger:     logger,
	}, nil
}

func (l *Lookup) Ranking() Ranking { return l.ranking }

func (l *Lookup) Dim() int { return l.values.Dim(1) }

// Read embeds [time, batch, channels] words, averages them over time and
// returns the [batch, dim] read together with the [batch, docs] weights.
func (l *Lookup) Read(words *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	emb, err := l.embeddings.Forward(words)
	if err != nil {
		return nil, nil, err
	}
	query, err := tensor.MeanAxis(emb, 0)
	if err != nil {
		return nil, nil, err
	}
	scores, err := tensor.MatMul(query, l.keys)
	if err != nil {
		return nil, nil, err
	}
	if l.ranking == RankTopK {
		if scores, err = keepTopK(scores, l.topK); err != nil {
			return nil, nil, err
		}
	}
	weights, err := tensor.Softmax(scores, -1)
	if err != nil {
		return nil, nil, err
	}
	out, err := tensor.MatMul(weights, l.values)
	if err != nil {
		return nil, nil, err
	}
	l.logger.Debug("memory read",
		zap.Ints("query", query.Shape()),
		zap.Ints("weights", weights.Shape()))
	return out, weights, nil
}

// keepTopK sets every score outside the k largest of its row to -Inf.
func keepTopK(scores *tensor.Tensor, k int) (*tensor.Tensor, error) {
	rows, docs := scores.Dim(0), scores.Dim(1)
	data := scores.Data()
	mask := make([]float64, len(data))
	order := make([]int, docs)
	for r := 0; r < rows; r++ {
		row := append([]float64(nil), data[r*docs:(r+1)*docs]...)
		floats.Argsort(row, order)
		for _, doc := range order[docs-k:] {
			mask[r*docs+doc] = 1
		}
	}
	return tensor.MaskedFill(scores, tensor.MustNew(mask, rows, docs), math.Inf(-1))
}

// Parameters are the two learned corpus views. The embeddings belong to the
// model that shares them.
func (l *Lookup) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{l.keys, l.values}
}

func (l *Lookup) ZeroGrad() {
	l.keys.ZeroGrad()
	l.values.ZeroGrad()
}
