package model

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/decoder"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// ErrUnavailable is returned for results a multi-device model does not
// produce.
var ErrUnavailable = errors.New("not available in multi-device mode")

// Output is the result of one teacher-forced forward pass.
type Output struct {
	// Outputs is [tgtLen-1, batch, hidden].
	Outputs *tensor.Tensor

	state    decoder.State
	attns    decoder.Attentions
	degraded bool
}

// State is the decoder state after the pass.
func (o Output) State() (decoder.State, error) {
	if o.degraded {
		return decoder.State{}, errors.Wrap(ErrUnavailable, "decoder state")
	}
	return o.state, nil
}

// Attentions is the attention bundle of the pass.
func (o Output) Attentions() (decoder.Attentions, error) {
	if o.degraded {
		return nil, errors.Wrap(ErrUnavailable, "attentions")
	}
	return o.attns, nil
}
