// Package encoder turns embedded source sequences into a final recurrent
// state and a memory bank for the decoder to attend over.
package encoder

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// Kind tags the encoder variant.
type Kind string

const (
	KindMean        Kind = "mean"
	KindRNN         Kind = "rnn"
	KindBiAttention Kind = "biattention"
)

var ErrUnknownKind = errors.New("unknown encoder kind")

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindMean, KindRNN, KindBiAttention:
		return k, nil
	}
	return "", errors.Wrapf(ErrUnknownKind, "%q", s)
}

// Encoder maps [time, batch, channels] token ids to a final state and a
// [time, batch, hidden] memory bank. lengths may be nil; when given it must
// have one entry per batch row. init may be the zero State.
type Encoder interface {
	nn.Module
	Encode(src *tensor.Tensor, lengths []int, init nn.State) (nn.State, *tensor.Tensor, error)
	Bidirectional() bool
}

// PairEncoder reads two aligned streams at once. The memory bank it returns
// holds the source positions followed by the answer positions.
type PairEncoder interface {
	nn.Module
	EncodePair(src *tensor.Tensor, srcLengths []int, ans *tensor.Tensor, ansLengths []int, init nn.State) (nn.State, *tensor.Tensor, error)
	Bidirectional() bool
}

// Config covers every encoder variant. HiddenSize is the total width of the
// memory bank; bidirectional variants split it across directions.
type Config struct {
	Kind          Kind
	CellKind      nn.CellKind
	Bidirectional bool
	Layers        int
	HiddenSize    int
	Dropout       float64
	// Bridge adds a learned projection of the final state.
	Bridge bool
	// BridgeLayers is the layer count the bridge projects to; 0 keeps Layers.
	BridgeLayers int
	Embeddings   *nn.Embeddings
	Logger       *zap.Logger
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) directions() int {
	if c.Bidirectional {
		return 2
	}
	return 1
}

func (c Config) validate() error {
	if c.Embeddings == nil {
		return errors.New("encoder needs embeddings")
	}
	if c.Layers <= 0 {
		return errors.Errorf("encoder layers must be positive, got %d", c.Layers)
	}
	if c.Kind == KindMean {
		return nil
	}
	if c.HiddenSize <= 0 || c.HiddenSize%c.directions() != 0 {
		return errors.Errorf("hidden size %d must be a positive multiple of %d", c.HiddenSize, c.directions())
	}
	return nil
}

// New builds a single-stream encoder.
func New(cfg Config) (Encoder, error) {
	switch cfg.Kind {
	case KindMean:
		enc, err := NewMean(cfg)
		if err != nil {
			return nil, err
		}
		return enc, nil
	case KindRNN:
		enc, err := NewRecurrent(cfg)
		if err != nil {
			return nil, err
		}
		return enc, nil
	case KindBiAttention:
		return nil, errors.Wrap(ErrUnknownKind, "biattention reads two streams; use NewPair")
	}
	return nil, errors.Wrapf(ErrUnknownKind, "%q", cfg.Kind)
}

// NewPair builds a two-stream encoder.
func NewPair(cfg Config) (PairEncoder, error) {
	if cfg.Kind != KindBiAttention {
		return nil, errors.Wrapf(ErrUnknownKind, "%q does not read two streams", cfg.Kind)
	}
	enc, err := NewBiAttention(cfg)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// checkArgs validates src against its lengths and returns (time, batch).
func checkArgs(src *tensor.Tensor, lengths []int) (int, int, error) {
	shape := src.Shape()
	if len(shape) != 3 {
		return 0, 0, errors.Wrapf(check.ErrShapeMismatch, "source must be [time, batch, channels], got %v", shape)
	}
	if lengths != nil {
		if err := check.Equal("lengths vs source batch", len(lengths), shape[1]); err != nil {
			return 0, 0, err
		}
		if err := check.Lengths(lengths, shape[1], shape[0]); err != nil {
			return 0, 0, err
		}
	}
	return shape[0], shape[1], nil
}
