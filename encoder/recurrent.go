package encoder

import (
	"go.uber.org/zap"

	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// Recurrent runs the embedded source through a stacked, optionally
// bidirectional transducer, packing by length when the cell kind allows it.
type Recurrent struct {
	embeddings    *nn.Embeddings
	rnn           nn.Transducer
	bridge        *bridge
	bidirectional bool
	logger        *zap.Logger
}

func NewRecurrent(cfg Config) (*Recurrent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	dirs := cfg.directions()
	hidden := cfg.HiddenSize / dirs
	rnn, err := nn.NewTransducer(nn.RNNConfig{
		Kind:          cfg.CellKind,
		InputSize:     cfg.Embeddings.EmbeddingSize(),
		HiddenSize:    hidden,
		Layers:        cfg.Layers,
		Bidirectional: cfg.Bidirectional,
		Dropout:       cfg.Dropout,
	})
	if err != nil {
		return nil, err
	}
	r := &Recurrent{
		embeddings:    cfg.Embeddings,
		rnn:           rnn,
		bidirectional: cfg.Bidirectional,
		logger:        cfg.logger(),
	}
	if cfg.Bridge {
		outLayers := cfg.BridgeLayers
		if outLayers <= 0 {
			outLayers = cfg.Layers
		}
		channels := 1
		if cfg.CellKind.Dual() {
			channels = 2
		}
		r.bridge = newBridge(channels, cfg.Layers*dirs, outLayers*dirs, hidden)
	}
	r.logger.Info("built encoder",
		zap.String("kind", string(KindRNN)),
		zap.String("cell", string(cfg.CellKind)),
		zap.Int("layers", cfg.Layers),
		zap.Int("hidden", cfg.HiddenSize),
		zap.Bool("bidirectional", cfg.Bidirectional),
		zap.Bool("bridge", cfg.Bridge))
	return r, nil
}

func (r *Recurrent) Bidirectional() bool { return r.bidirectional }

func (r *Recurrent) Transducer() nn.Transducer { return r.rnn }

func (r *Recurrent) SetTraining(training bool) {
	nn.SetTraining(training, r.embeddings, r.rnn)
}

func (r *Recurrent) Encode(src *tensor.Tensor, lengths []int, init nn.State) (nn.State, *tensor.Tensor, error) {
	if _, _, err := checkArgs(src, lengths); err != nil {
		return nn.State{}, nil, err
	}
	emb, err := r.embeddings.Forward(src)
	if err != nil {
		return nn.State{}, nil, err
	}
	var (
		memory *tensor.Tensor
		final  nn.State
	)
	if lengths != nil && r.rnn.Kind().Packable() {
		packed, err := nn.Pack(emb, lengths)
		if err != nil {
			return nn.State{}, nil, err
		}
		out, state, err := nn.RunPacked(r.rnn, packed, init)
		if err != nil {
			return nn.State{}, nil, err
		}
		if memory, _, err = nn.Unpack(out); err != nil {
			return nn.State{}, nil, err
		}
		final = state
	} else {
		if memory, final, err = r.rnn.Forward(emb, nil, init); err != nil {
			return nn.State{}, nil, err
		}
	}
	if r.bridge != nil {
		if final, err = r.bridge.forward(final); err != nil {
			return nn.State{}, nil, err
		}
	}
	r.logger.Debug("recurrent encode",
		zap.Ints("memory", memory.Shape()),
		zap.Ints("final", final.Shape()))
	return final, memory, nil
}

func (r *Recurrent) Parameters() []*tensor.Tensor {
	params := nn.Collect(r.embeddings, r.rnn)
	if r.bridge != nil {
		params = append(params, r.bridge.Parameters()...)
	}
	return params
}

func (r *Recurrent) ZeroGrad() {
	for _, p := range r.Parameters() {
		p.ZeroGrad()
	}
}
