package model

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fumitoshi0524/ixeoriNMT/attention"
	"github.com/fumitoshi0524/ixeoriNMT/decoder"
	"github.com/fumitoshi0524/ixeoriNMT/encoder"
	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/memory"
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// Options is the validated configuration record every model is built from.
type Options struct {
	EncoderType      string  `mapstructure:"encoder_type"`
	RNNType          string  `mapstructure:"rnn_type"`
	EncoderLayers    int     `mapstructure:"enc_layers"`
	DecoderLayers    int     `mapstructure:"dec_layers"`
	RNNSize          int     `mapstructure:"rnn_size"`
	WordVecSize      int     `mapstructure:"word_vec_size"`
	FeatVecSize      int     `mapstructure:"feat_vec_size"`
	SrcFeatureVocabs []int   `mapstructure:"src_feature_vocabs"`
	SrcVocabSize     int     `mapstructure:"src_vocab_size"`
	TgtVocabSize     int     `mapstructure:"tgt_vocab_size"`
	PadIndex         int     `mapstructure:"pad_index"`
	Bidirectional    bool    `mapstructure:"brnn"`
	Bridge           bool    `mapstructure:"bridge"`
	GlobalAttention  string  `mapstructure:"global_attention"`
	InputFeed        bool    `mapstructure:"input_feed"`
	CoverageAttn     bool    `mapstructure:"coverage_attn"`
	CopyAttn         bool    `mapstructure:"copy_attn"`
	ReuseCopyAttn    bool    `mapstructure:"reuse_copy_attn"`
	ContextGate      string  `mapstructure:"context_gate"`
	Dropout          float64 `mapstructure:"dropout"`
	MultiGPU         bool    `mapstructure:"multigpu"`
	TwoEncoder       bool    `mapstructure:"two_encoder"`
	Memory           bool    `mapstructure:"memory"`
	MemoryRanking    string  `mapstructure:"memory_ranking"`
	MemoryTopK       int     `mapstructure:"memory_top_k"`
}

func DefaultOptions() Options {
	return Options{
		EncoderType:     string(encoder.KindRNN),
		RNNType:         string(nn.KindLSTM),
		EncoderLayers:   2,
		DecoderLayers:   2,
		RNNSize:         16,
		WordVecSize:     16,
		SrcVocabSize:    32,
		TgtVocabSize:    32,
		PadIndex:        0,
		GlobalAttention: string(attention.ScoreGeneral),
		InputFeed:       true,
		MemoryRanking:   string(memory.RankDense),
		MemoryTopK:      5,
	}
}

func (o Options) srcEmbeddingSize() int {
	return o.WordVecSize + len(o.SrcFeatureVocabs)*o.FeatVecSize
}

// Validate rejects every combination the builders cannot honor.
func (o Options) Validate() error {
	encKind, err := encoder.ParseKind(o.EncoderType)
	if err != nil {
		return err
	}
	cell, err := nn.ParseCellKind(o.RNNType)
	if err != nil {
		return err
	}
	if _, err := attention.ParseScoreKind(o.GlobalAttention); err != nil {
		return err
	}
	if o.ContextGate != "" {
		if _, err := attention.ParseGateKind(o.ContextGate); err != nil {
			return err
		}
	}
	if _, err := memory.ParseRanking(o.MemoryRanking); err != nil {
		return err
	}
	if o.EncoderLayers <= 0 || o.DecoderLayers <= 0 || o.RNNSize <= 0 || o.WordVecSize <= 0 {
		return errors.Errorf("sizes must be positive: enc_layers=%d dec_layers=%d rnn_size=%d word_vec_size=%d",
			o.EncoderLayers, o.DecoderLayers, o.RNNSize, o.WordVecSize)
	}
	if o.SrcVocabSize <= 0 || o.TgtVocabSize <= 0 {
		return errors.New("vocabulary sizes must be positive")
	}
	if o.Dropout < 0 || o.Dropout >= 1 {
		return errors.Errorf("dropout %v outside [0, 1)", o.Dropout)
	}

	if o.InputFeed {
		if !cell.Steppable() {
			return errors.Wrapf(decoder.ErrNotSteppable, "%s with input_feed", cell)
		}
	} else {
		if o.CoverageAttn {
			return errors.Wrap(decoder.ErrCoverageUnsupported, "coverage_attn needs input_feed")
		}
		if o.CopyAttn {
			return errors.Wrap(decoder.ErrCopyUnsupported, "copy_attn needs input_feed")
		}
	}

	switch encKind {
	case encoder.KindMean:
		if err := check.Equal("mean encoder embedding size vs rnn_size", o.srcEmbeddingSize(), o.RNNSize); err != nil {
			return err
		}
		if err := check.Equal("mean encoder layers vs decoder layers", o.EncoderLayers, o.DecoderLayers); err != nil {
			return err
		}
	case encoder.KindRNN:
		if o.Bidirectional && o.RNNSize%2 != 0 {
			return errors.Errorf("bidirectional rnn_size %d must be even", o.RNNSize)
		}
		if !o.Bridge {
			if err := check.Equal("encoder layers vs decoder layers without bridge", o.EncoderLayers, o.DecoderLayers); err != nil {
				return err
			}
		}
	case encoder.KindBiAttention:
		if !o.TwoEncoder {
			return errors.New("biattention encoder reads two streams; set two_encoder")
		}
		if !o.Bidirectional || o.EncoderLayers != 2 || o.RNNSize%2 != 0 {
			return errors.New("biattention needs brnn, enc_layers=2 and an even rnn_size")
		}
		if o.Bridge {
			return errors.New("biattention has no bridge")
		}
		if !cell.Packable() {
			return errors.Wrapf(nn.ErrUnsupportedKind, "biattention over %s", cell)
		}
		if err := check.Equal("biattention decoder layers", o.DecoderLayers, 1); err != nil {
			return err
		}
	}

	if o.Memory {
		if !o.TwoEncoder {
			return errors.New("memory lookup needs two_encoder")
		}
		if err := check.Equal("memory embedding size vs rnn_size", o.srcEmbeddingSize(), o.RNNSize); err != nil {
			return err
		}
	}
	return nil
}

// Documents is the raw corpus behind the memory lookup: [time, docs,
// channels] token ids and one length per document.
type Documents struct {
	Tokens  *tensor.Tensor
	Lengths []int
}

type parts struct {
	srcEmb  *nn.Embeddings
	encCfg  encoder.Config
	decoder decoder.Decoder
	gen     *Generator
}

func (o Options) build(logger *zap.Logger) (parts, error) {
	if err := o.Validate(); err != nil {
		return parts{}, err
	}
	cell, _ := nn.ParseCellKind(o.RNNType)
	srcEmb, err := nn.NewEmbeddings(nn.EmbeddingsConfig{
		VocabSize:         o.SrcVocabSize,
		Dim:               o.WordVecSize,
		PadIndex:          o.PadIndex,
		FeatureVocabSizes: o.SrcFeatureVocabs,
		FeatureDim:        o.FeatVecSize,
		Dropout:           o.Dropout,
	})
	if err != nil {
		return parts{}, err
	}
	tgtEmb, err := nn.NewEmbeddings(nn.EmbeddingsConfig{
		VocabSize: o.TgtVocabSize,
		Dim:       o.WordVecSize,
		PadIndex:  o.PadIndex,
		Dropout:   o.Dropout,
	})
	if err != nil {
		return parts{}, err
	}

	encKind := encoder.Kind(o.EncoderType)
	bidirectional := o.Bidirectional && encKind != encoder.KindMean
	encCfg := encoder.Config{
		Kind:          encKind,
		CellKind:      cell,
		Bidirectional: bidirectional,
		Layers:        o.EncoderLayers,
		HiddenSize:    o.RNNSize,
		Dropout:       o.Dropout,
		Bridge:        o.Bridge,
		BridgeLayers:  o.DecoderLayers,
		Embeddings:    srcEmb,
		Logger:        logger,
	}

	decKind := decoder.KindStandard
	if o.InputFeed {
		decKind = decoder.KindInputFeed
	}
	dec, err := decoder.New(decoder.Config{
		Kind:                 decKind,
		CellKind:             cell,
		BidirectionalEncoder: bidirectional,
		Layers:               o.DecoderLayers,
		HiddenSize:           o.RNNSize,
		Attention:            attention.ScoreKind(o.GlobalAttention),
		Coverage:             o.CoverageAttn,
		Copy:                 o.CopyAttn,
		ReuseCopy:            o.ReuseCopyAttn,
		ContextGate:          attention.GateKind(o.ContextGate),
		Dropout:              o.Dropout,
		Embeddings:           tgtEmb,
		Logger:               logger,
	})
	if err != nil {
		return parts{}, err
	}
	return parts{srcEmb: srcEmb, encCfg: encCfg, decoder: dec, gen: NewGenerator(o.RNNSize, o.TgtVocabSize)}, nil
}

// BuildNMT builds a single-encoder model from validated options.
func BuildNMT(o Options, logger *zap.Logger) (*NMTModel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if o.TwoEncoder {
		return nil, errors.New("two_encoder options need BuildTwoEncoder")
	}
	p, err := o.build(logger)
	if err != nil {
		return nil, err
	}
	enc, err := encoder.New(p.encCfg)
	if err != nil {
		return nil, err
	}
	logger.Info("built model",
		zap.String("type", "nmt"),
		zap.String("encoder", o.EncoderType),
		zap.String("rnn", o.RNNType),
		zap.Bool("input_feed", o.InputFeed),
		zap.Bool("multigpu", o.MultiGPU))
	return NewNMTModel(enc, p.decoder, p.gen, o.MultiGPU, logger), nil
}

// BuildTwoEncoder builds a two-stream model. docs is required when
// o.Memory is set and is embedded through the source embeddings.
func BuildTwoEncoder(o Options, docs *Documents, logger *zap.Logger) (*TwoEncoderModel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !o.TwoEncoder {
		return nil, errors.New("BuildTwoEncoder needs two_encoder options")
	}
	p, err := o.build(logger)
	if err != nil {
		return nil, err
	}
	cfg := TwoEncoderConfig{Decoder: p.decoder, Generator: p.gen, MultiGPU: o.MultiGPU, Logger: logger}
	if p.encCfg.Kind == encoder.KindBiAttention {
		if cfg.PairEncoder, err = encoder.NewPair(p.encCfg); err != nil {
			return nil, err
		}
	} else if cfg.Encoder, err = encoder.New(p.encCfg); err != nil {
		return nil, err
	}
	if o.Memory {
		if docs == nil {
			return nil, errors.New("memory lookup needs documents")
		}
		corpus, err := memory.EncodeCorpus(p.srcEmb, docs.Tokens, docs.Lengths)
		if err != nil {
			return nil, errors.Wrap(err, "encode corpus")
		}
		cfg.Memory, err = memory.New(memory.Config{
			Ranking:    memory.Ranking(o.MemoryRanking),
			TopK:       o.MemoryTopK,
			Embeddings: p.srcEmb,
			Logger:     logger,
		}, corpus)
		if err != nil {
			return nil, err
		}
	}
	logger.Info("built model",
		zap.String("type", "two_encoder"),
		zap.String("encoder", o.EncoderType),
		zap.String("rnn", o.RNNType),
		zap.Bool("memory", o.Memory),
		zap.Bool("multigpu", o.MultiGPU))
	return NewTwoEncoderModel(cfg)
}
