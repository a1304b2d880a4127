package nn

import (
	"math"

	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// Embedding is a lookup table of numEmbeddings rows.
type Embedding struct {
	numEmbeddings int
	embeddingDim  int
	padIdx        int
	weight        *tensor.Tensor
}

// NewEmbedding builds a table. When padIdx is a valid row that row starts at
// zero and never receives gradient, so it stays zero through training.
func NewEmbedding(numEmbeddings, embeddingDim, padIdx int) *Embedding {
	weight := tensor.Randn(numEmbeddings, embeddingDim)
	weight.Scale(1.0 / math.Sqrt(float64(embeddingDim)))
	if padIdx >= 0 && padIdx < numEmbeddings {
		data := weight.Data()
		for j := 0; j < embeddingDim; j++ {
			data[padIdx*embeddingDim+j] = 0
		}
		_ = weight.SetData(data)
	} else {
		padIdx = -1
	}
	weight.SetRequiresGrad(true)
	return &Embedding{
		numEmbeddings: numEmbeddings,
		embeddingDim:  embeddingDim,
		padIdx:        padIdx,
		weight:        weight,
	}
}

func (e *Embedding) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Embedding(e.weight, input, e.padIdx)
}

func (e *Embedding) Weight() *tensor.Tensor { return e.weight }

func (e *Embedding) Dim() int { return e.embeddingDim }

func (e *Embedding) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{e.weight}
}

func (e *Embedding) ZeroGrad() {
	e.weight.ZeroGrad()
}

func (e *Embedding) StateDict(prefix string, state map[string]*tensor.Tensor) {
	if state == nil {
		return
	}
	state[joinPrefix(prefix, "weight")] = e.weight.Clone()
}

func (e *Embedding) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	if state == nil {
		return errors.New("state dict is nil")
	}
	return loadInto("Embedding", e.weight, joinPrefix(prefix, "weight"), state)
}

// EmbeddingsConfig describes a word table plus optional feature tables.
type EmbeddingsConfig struct {
	VocabSize int
	Dim       int
	PadIndex  int
	// FeatureVocabSizes lists one vocabulary per extra input channel.
	FeatureVocabSizes []int
	FeatureDim        int
	Dropout           float64
}

// Embeddings maps [time, batch, channels] token ids to
// [time, batch, EmbeddingSize()] vectors. Channel 0 is the word; every
// further channel is a feature whose vector is concatenated after it.
type Embeddings struct {
	word     *Embedding
	features []*Embedding
	dropout  *Dropout
	padIdx   int
}

func NewEmbeddings(cfg EmbeddingsConfig) (*Embeddings, error) {
	if cfg.VocabSize <= 0 || cfg.Dim <= 0 {
		return nil, errors.Errorf("embeddings need positive vocab and dim, got %d and %d", cfg.VocabSize, cfg.Dim)
	}
	if len(cfg.FeatureVocabSizes) > 0 && cfg.FeatureDim <= 0 {
		return nil, errors.New("feature embeddings need a positive FeatureDim")
	}
	e := &Embeddings{
		word:    NewEmbedding(cfg.VocabSize, cfg.Dim, cfg.PadIndex),
		dropout: NewDropout(cfg.Dropout),
		padIdx:  cfg.PadIndex,
	}
	for _, size := range cfg.FeatureVocabSizes {
		e.features = append(e.features, NewEmbedding(size, cfg.FeatureDim, cfg.PadIndex))
	}
	return e, nil
}

// EmbeddingSize is the width of the vectors Forward produces.
func (e *Embeddings) EmbeddingSize() int {
	size := e.word.Dim()
	for _, f := range e.features {
		size += f.Dim()
	}
	return size
}

// Channels is the number of token channels Forward expects.
func (e *Embeddings) Channels() int { return 1 + len(e.features) }

func (e *Embeddings) PadIndex() int { return e.padIdx }

// WordTable exposes the word lookup table.
func (e *Embeddings) WordTable() *Embedding { return e.word }

func (e *Embeddings) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	shape := input.Shape()
	if len(shape) != 3 || shape[2] != e.Channels() {
		return nil, errors.Wrapf(tensor.ErrShape, "embeddings expect [time, batch, %d], got %v", e.Channels(), shape)
	}
	tables := append([]*Embedding{e.word}, e.features...)
	parts := make([]*tensor.Tensor, len(tables))
	for c, table := range tables {
		ids, err := tensor.Narrow(input, 2, c, 1)
		if err != nil {
			return nil, err
		}
		ids, err = tensor.Squeeze(ids, 2)
		if err != nil {
			return nil, err
		}
		parts[c], err = table.Forward(ids)
		if err != nil {
			return nil, errors.Wrapf(err, "channel %d", c)
		}
	}
	out := parts[0]
	if len(parts) > 1 {
		var err error
		out, err = tensor.Concat(2, parts...)
		if err != nil {
			return nil, err
		}
	}
	return e.dropout.Forward(out)
}

func (e *Embeddings) Parameters() []*tensor.Tensor {
	params := e.word.Parameters()
	for _, f := range e.features {
		params = append(params, f.Parameters()...)
	}
	return params
}

func (e *Embeddings) ZeroGrad() { zeroGrad(e.Parameters()) }

func (e *Embeddings) SetTraining(training bool) { e.dropout.SetTraining(training) }
