// Package optim updates model parameters from their accumulated gradients.
package optim

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// Method names a parameter update rule.
type Method string

const (
	MethodSGD      Method = "sgd"
	MethodAdagrad  Method = "adagrad"
	MethodAdadelta Method = "adadelta"
	MethodAdam     Method = "adam"
	MethodAdamW    Method = "adamw"
	MethodRMSProp  Method = "rmsprop"
)

var ErrUnknownMethod = errors.New("unknown optimization method")

// Optimizer is one update rule over a fixed parameter list.
type Optimizer interface {
	Step() error
	ZeroGrad()
	SetLR(lr float64)
}

type Config struct {
	Method Method
	LR     float64
	// MaxGradNorm rescales gradients whose global L2 norm exceeds it; 0 disables.
	MaxGradNorm float64
	// ClipValue clamps every gradient element to [-ClipValue, ClipValue]; 0 disables.
	ClipValue float64
	// LRDecay multiplies the learning rate once decay has started.
	LRDecay float64
	// StartDecayAt is the first epoch at which the rate always decays.
	StartDecayAt int
	Beta1        float64
	Beta2        float64
	// WeightDecay is decoupled for adamw and an L2 term for rmsprop.
	WeightDecay float64
	// Alpha is the rmsprop smoothing constant; 0 means 0.99.
	Alpha float64
	// Momentum applies to sgd and rmsprop.
	Momentum float64
	// AdagradInit is the initial accumulator value for adagrad.
	AdagradInit float64
}

// Optim wraps an update rule with gradient clipping and a learning-rate
// schedule that decays once validation perplexity stops improving.
type Optim struct {
	cfg          Config
	params       []*tensor.Tensor
	opt          Optimizer
	lr           float64
	lastPPL      float64
	haveLastPPL  bool
	decayStarted bool
}

func New(params []*tensor.Tensor, cfg Config) (*Optim, error) {
	if cfg.LR <= 0 {
		return nil, errors.Errorf("learning rate must be positive, got %v", cfg.LR)
	}
	if cfg.LRDecay == 0 {
		cfg.LRDecay = 1
	}
	var opt Optimizer
	switch cfg.Method {
	case MethodSGD:
		opt = NewSGD(params, cfg.LR, cfg.Momentum)
	case MethodAdagrad:
		opt = NewAdagrad(params, cfg.LR, cfg.AdagradInit, 1e-10)
	case MethodAdadelta:
		opt = NewAdadelta(params, cfg.LR, 0.95, 1e-6)
	case MethodAdam:
		beta1, beta2 := cfg.betas()
		opt = NewAdam(params, cfg.LR, beta1, beta2, 1e-8)
	case MethodAdamW:
		beta1, beta2 := cfg.betas()
		opt = NewAdamW(params, cfg.LR, beta1, beta2, 1e-8, cfg.WeightDecay)
	case MethodRMSProp:
		opt = NewRMSProp(params, cfg.LR, cfg.Alpha, 1e-8, cfg.WeightDecay, cfg.Momentum)
	default:
		return nil, errors.Wrapf(ErrUnknownMethod, "%q", cfg.Method)
	}
	return &Optim{cfg: cfg, params: params, opt: opt, lr: cfg.LR}, nil
}

func (c Config) betas() (float64, float64) {
	beta1, beta2 := c.Beta1, c.Beta2
	if beta1 == 0 {
		beta1 = 0.9
	}
	if beta2 == 0 {
		beta2 = 0.999
	}
	return beta1, beta2
}

func (o *Optim) LR() float64 { return o.lr }

// Step clips the gradients and applies one update. It returns the global
// gradient norm measured before clipping, or 0 when norm clipping is off.
func (o *Optim) Step() (float64, error) {
	var norm float64
	if o.cfg.MaxGradNorm > 0 {
		norm = ClipGradNorm(o.params, o.cfg.MaxGradNorm, 2)
	}
	if o.cfg.ClipValue > 0 {
		ClipGradValue(o.params, o.cfg.ClipValue)
	}
	return norm, o.opt.Step()
}

func (o *Optim) ZeroGrad() { o.opt.ZeroGrad() }

// UpdateLearningRate decays the rate when ppl did not improve on the last
// call or once epoch reaches StartDecayAt; after the first decay it decays
// on every call.
func (o *Optim) UpdateLearningRate(ppl float64, epoch int) float64 {
	if o.cfg.StartDecayAt > 0 && epoch >= o.cfg.StartDecayAt {
		o.decayStarted = true
	}
	if o.haveLastPPL && ppl > o.lastPPL {
		o.decayStarted = true
	}
	if o.decayStarted {
		o.lr *= o.cfg.LRDecay
		o.opt.SetLR(o.lr)
	}
	o.lastPPL, o.haveLastPPL = ppl, true
	return o.lr
}
