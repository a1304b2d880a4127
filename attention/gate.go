package attention

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// GateKind selects which side the context gate scales.
type GateKind string

const (
	GateSource GateKind = "source"
	GateTarget GateKind = "target"
	GateBoth   GateKind = "both"
)

// ErrUnknownGate is returned for a gate name that is not source, target or both.
var ErrUnknownGate = errors.New("unknown context gate")

// ParseGateKind maps a configuration name to a GateKind.
func ParseGateKind(s string) (GateKind, error) {
	switch k := GateKind(s); k {
	case GateSource, GateTarget, GateBoth:
		return k, nil
	}
	return "", errors.Wrapf(ErrUnknownGate, "%q", s)
}

// ContextGate fuses the previous embedding, the raw decoder output and the
// attended output. With z = σ(W [emb; dec; attn]), source = P_s attn and
// target = P_t [emb; dec]:
//
//	source: tanh(target + z ⊙ source)
//	target: tanh(z ⊙ target + source)
//	both:   tanh((1-z) ⊙ target + z ⊙ source)
//
// Inputs may be [batch, *] or [time, batch, *].
type ContextGate struct {
	kind       GateKind
	gate       *nn.Linear
	sourceProj *nn.Linear
	targetProj *nn.Linear
}

// NewContextGate builds a gate whose output has outputSize columns.
func NewContextGate(kind GateKind, embeddingSize, decoderSize, attentionSize, outputSize int) (*ContextGate, error) {
	switch kind {
	case GateSource, GateTarget, GateBoth:
	default:
		return nil, errors.Wrapf(ErrUnknownGate, "%q", kind)
	}
	return &ContextGate{
		kind:       kind,
		gate:       nn.NewLinear(embeddingSize+decoderSize+attentionSize, outputSize, true),
		sourceProj: nn.NewLinear(attentionSize, outputSize, true),
		targetProj: nn.NewLinear(embeddingSize+decoderSize, outputSize, true),
	}, nil
}

// Kind is the side the gate scales.
func (c *ContextGate) Kind() GateKind { return c.kind }

// Forward fuses the three inputs into one [..., outputSize] tensor.
func (c *ContextGate) Forward(prevEmb, decState, attnState *tensor.Tensor) (*tensor.Tensor, error) {
	axis := prevEmb.Rank() - 1
	all, err := tensor.Concat(axis, prevEmb, decState, attnState)
	if err != nil {
		return nil, errors.Wrap(err, "context gate inputs")
	}
	zPre, err := c.gate.Forward(all)
	if err != nil {
		return nil, err
	}
	z := tensor.Sigmoid(zPre)
	source, err := c.sourceProj.Forward(attnState)
	if err != nil {
		return nil, err
	}
	targetIn, err := tensor.Concat(axis, prevEmb, decState)
	if err != nil {
		return nil, err
	}
	target, err := c.targetProj.Forward(targetIn)
	if err != nil {
		return nil, err
	}

	var fused *tensor.Tensor
	switch c.kind {
	case GateSource:
		scaled, err := tensor.Mul(z, source)
		if err != nil {
			return nil, err
		}
		fused, err = tensor.Add(target, scaled)
		if err != nil {
			return nil, err
		}
	case GateTarget:
		scaled, err := tensor.Mul(z, target)
		if err != nil {
			return nil, err
		}
		fused, err = tensor.Add(scaled, source)
		if err != nil {
			return nil, err
		}
	default:
		keptTarget, err := tensor.Mul(tensor.OneMinus(z), target)
		if err != nil {
			return nil, err
		}
		keptSource, err := tensor.Mul(z, source)
		if err != nil {
			return nil, err
		}
		fused, err = tensor.Add(keptTarget, keptSource)
		if err != nil {
			return nil, err
		}
	}
	return tensor.Tanh(fused), nil
}

// Parameters returns the gate and projection weights.
func (c *ContextGate) Parameters() []*tensor.Tensor {
	return nn.Collect(c.gate, c.sourceProj, c.targetProj)
}

// ZeroGrad clears the gradients of every parameter.
func (c *ContextGate) ZeroGrad() {
	nn.ZeroGradAll(c.gate, c.sourceProj, c.targetProj)
}
