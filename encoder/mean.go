package encoder

import (
	"go.uber.org/zap"

	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// Mean averages the embedded sequence over time and replicates the average
// for every layer. The memory bank is the embedded sequence itself.
type Mean struct {
	layers     int
	embeddings *nn.Embeddings
	logger     *zap.Logger
}

func NewMean(cfg Config) (*Mean, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.logger().Info("built encoder",
		zap.String("kind", string(KindMean)),
		zap.Int("layers", cfg.Layers),
		zap.Int("width", cfg.Embeddings.EmbeddingSize()))
	return &Mean{layers: cfg.Layers, embeddings: cfg.Embeddings, logger: cfg.logger()}, nil
}

func (m *Mean) Bidirectional() bool { return false }

func (m *Mean) SetTraining(training bool) { m.embeddings.SetTraining(training) }

// Encode returns the dual state (mean, mean) of shape [layers, batch, dim].
// The average runs over the padded time axis.
func (m *Mean) Encode(src *tensor.Tensor, lengths []int, _ nn.State) (nn.State, *tensor.Tensor, error) {
	if _, _, err := checkArgs(src, lengths); err != nil {
		return nn.State{}, nil, err
	}
	emb, err := m.embeddings.Forward(src)
	if err != nil {
		return nn.State{}, nil, err
	}
	mean, err := tensor.MeanAxis(emb, 0)
	if err != nil {
		return nn.State{}, nil, err
	}
	replicated, err := tensor.Expand(mean, 0, m.layers)
	if err != nil {
		return nn.State{}, nil, err
	}
	m.logger.Debug("mean encode", zap.Ints("memory", emb.Shape()))
	return nn.Dual(replicated, replicated), emb, nil
}

func (m *Mean) Parameters() []*tensor.Tensor { return m.embeddings.Parameters() }

func (m *Mean) ZeroGrad() { m.embeddings.ZeroGrad() }
