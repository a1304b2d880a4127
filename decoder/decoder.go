// Package decoder implements attention-driven recurrent decoders and the
// beam-reorderable state threaded between their calls.
package decoder

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fumitoshi0524/ixeoriNMT/attention"
	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// Kind selects a decoder implementation.
type Kind string

const (
	KindStandard  Kind = "standard"
	KindInputFeed Kind = "inputfeed"
)

// Construction errors.
var (
	ErrUnknownKind         = errors.New("unknown decoder kind")
	ErrCoverageUnsupported = errors.New("decoder does not support coverage attention")
	ErrCopyUnsupported     = errors.New("decoder does not support copy attention")
	ErrNotSteppable        = errors.New("cell kind cannot be run one step at a time")
)

// Attention bundle keys.
const (
	AttnStd      = "std"
	AttnCopy     = "copy"
	AttnCoverage = "coverage"
)

// Attentions maps a bundle key to stacked [tgtLen, batch, srcLen]
// distributions.
type Attentions map[string]*tensor.Tensor

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindStandard, KindInputFeed:
		return k, nil
	}
	return "", errors.Wrapf(ErrUnknownKind, "%q", s)
}

// Config describes a decoder. Copy, ReuseCopy and Coverage need the
// input-feeding kind; ContextGate may be empty for no gate.
type Config struct {
	Kind     Kind
	CellKind nn.CellKind
	// BidirectionalEncoder folds direction pairs of the encoder's final
	// state into the hidden axis.
	BidirectionalEncoder bool
	Layers               int
	HiddenSize           int
	Attention            attention.ScoreKind
	Coverage             bool
	Copy                 bool
	ReuseCopy            bool
	// ContextGate is empty when no gate is used.
	ContextGate attention.GateKind
	Dropout     float64
	Embeddings  *nn.Embeddings
	Logger      *zap.Logger
}

// Validate rejects configurations a decoder of cfg.Kind cannot honor.
func (c Config) Validate() error {
	if c.Embeddings == nil {
		return errors.New("decoder needs embeddings")
	}
	if c.Layers <= 0 || c.HiddenSize <= 0 {
		return errors.Errorf("decoder sizes must be positive: layers=%d hidden=%d", c.Layers, c.HiddenSize)
	}
	if _, err := attention.ParseScoreKind(string(c.Attention)); err != nil {
		return err
	}
	if c.ContextGate != "" {
		if _, err := attention.ParseGateKind(string(c.ContextGate)); err != nil {
			return err
		}
	}
	switch c.Kind {
	case KindStandard:
		if c.Coverage {
			return errors.Wrap(ErrCoverageUnsupported, string(c.Kind))
		}
		if c.Copy {
			return errors.Wrap(ErrCopyUnsupported, string(c.Kind))
		}
	case KindInputFeed:
		if !c.CellKind.Steppable() {
			return errors.Wrapf(ErrNotSteppable, "%s with input feeding", c.CellKind)
		}
	default:
		return errors.Wrapf(ErrUnknownKind, "%q", c.Kind)
	}
	return nil
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// Decoder consumes a target prefix [tgtLen, batch, channels] against a
// [srcLen, batch, hidden] memory bank and returns [tgtLen, batch, hidden]
// outputs, the next state and the attention bundle.
type Decoder interface {
	nn.Module
	Decode(tgt, memory *tensor.Tensor, state State, memoryLengths []int) (*tensor.Tensor, State, Attentions, error)
	InitState(encoderFinal nn.State) (State, error)
	Kind() Kind
	HiddenSize() int
}

// New builds the decoder named by cfg.Kind.
func New(cfg Config) (Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Kind == KindStandard {
		d, err := newStandard(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	d, err := newInputFeed(cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// base holds the parts shared by every decoder kind.
type base struct {
	cfg         Config
	embeddings  *nn.Embeddings
	attn        *attention.Global
	copyAttn    *attention.Global
	contextGate *attention.ContextGate
	dropout     *nn.Dropout
	logger      *zap.Logger
}

func newBase(cfg Config, inputSize int) (*base, error) {
	b := &base{
		cfg:        cfg,
		embeddings: cfg.Embeddings,
		dropout:    nn.NewDropout(cfg.Dropout),
		logger:     cfg.logger(),
	}
	var err error
	if b.attn, err = attention.NewGlobal(cfg.HiddenSize, cfg.Attention, cfg.Coverage); err != nil {
		return nil, err
	}
	if cfg.Copy && !cfg.ReuseCopy {
		if b.copyAttn, err = attention.NewGlobal(cfg.HiddenSize, cfg.Attention, false); err != nil {
			return nil, err
		}
	}
	if cfg.ContextGate != "" {
		b.contextGate, err = attention.NewContextGate(cfg.ContextGate, inputSize, cfg.HiddenSize, cfg.HiddenSize, cfg.HiddenSize)
		if err != nil {
			return nil, err
		}
	}
	b.logger.Info("built decoder",
		zap.String("kind", string(cfg.Kind)),
		zap.String("cell", string(cfg.CellKind)),
		zap.Int("layers", cfg.Layers),
		zap.Int("hidden", cfg.HiddenSize),
		zap.String("attention", string(cfg.Attention)),
		zap.Bool("coverage", cfg.Coverage),
		zap.Bool("copy", cfg.Copy),
		zap.String("context_gate", string(cfg.ContextGate)))
	return b, nil
}

// Kind is the decoder's implementation kind.
func (b *base) Kind() Kind { return b.cfg.Kind }

// HiddenSize is the width of the recurrent state and of every output.
func (b *base) HiddenSize() int { return b.cfg.HiddenSize }

// InitState builds the first decoder state from an encoder's final state.
// A single-channel decoder given a dual state keeps the hidden channel.
func (b *base) InitState(encoderFinal nn.State) (State, error) {
	if encoderFinal.IsZero() {
		return State{}, errors.New("empty encoder state")
	}
	final := encoderFinal
	if dual := b.cfg.CellKind.Dual(); dual != final.IsDual() {
		if dual {
			return State{}, errors.Errorf("%s decoder needs a two-channel encoder state", b.cfg.CellKind)
		}
		final = nn.Single(final.Hidden())
	}
	hidden, err := final.Map(func(h *tensor.Tensor) (*tensor.Tensor, error) {
		return reconcile(h, b.cfg.BidirectionalEncoder)
	})
	if err != nil {
		return State{}, err
	}
	if err := check.Dims("reconciled encoder state", hidden.Shape(), b.cfg.Layers, -1, b.cfg.HiddenSize); err != nil {
		return State{}, err
	}
	return NewState(b.cfg.HiddenSize, hidden)
}

// checkDecode validates the shared preconditions and returns the
// batch-major memory bank.
func (b *base) checkDecode(tgt, memory *tensor.Tensor, state State) (*tensor.Tensor, error) {
	if err := check.Dims("target", tgt.Shape(), -1, -1, b.embeddings.Channels()); err != nil {
		return nil, err
	}
	if err := check.Dims("memory bank", memory.Shape(), -1, -1, b.cfg.HiddenSize); err != nil {
		return nil, err
	}
	if err := check.Equal("target vs memory batch", tgt.Dim(1), memory.Dim(1)); err != nil {
		return nil, err
	}
	if state.hidden.IsZero() {
		return nil, errors.New("decoder state is not initialized")
	}
	if err := check.Equal("target vs state batch", tgt.Dim(1), state.BatchSize()); err != nil {
		return nil, err
	}
	return tensor.SwapTimeBatch(memory)
}

// finish turns the last output and coverage step into the next state.
func (b *base) finish(state State, hidden nn.State, outputs *tensor.Tensor, attns Attentions) (State, error) {
	steps := outputs.Dim(0)
	last, err := tensor.Narrow(outputs, 0, steps-1, 1)
	if err != nil {
		return State{}, err
	}
	var coverage *tensor.Tensor
	if cov, ok := attns[AttnCoverage]; ok {
		if coverage, err = tensor.Narrow(cov, 0, steps-1, 1); err != nil {
			return State{}, err
		}
	}
	return state.Update(hidden, last, coverage)
}

func (b *base) parameters() []*tensor.Tensor {
	params := nn.Collect(b.embeddings, b.attn)
	if b.copyAttn != nil {
		params = append(params, b.copyAttn.Parameters()...)
	}
	if b.contextGate != nil {
		params = append(params, b.contextGate.Parameters()...)
	}
	return params
}
