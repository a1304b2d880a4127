package optim

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// quadraticStep sets the gradient of mean((param - target)^2).
func quadraticStep(t *testing.T, param *tensor.Tensor, target float64) float64 {
	t.Helper()
	diff, err := tensor.Sub(param, tensor.Full(target, param.Shape()...))
	require.NoError(t, err)
	loss := tensor.Mean(tensor.Pow(diff, 2))
	require.NoError(t, loss.Backward())
	return loss.Data()[0]
}

func sumGrad(t *testing.T, param *tensor.Tensor) {
	t.Helper()
	require.NoError(t, tensor.Sum(param).Backward())
}

func TestSGDStepAndMomentum(t *testing.T) {
	param := tensor.MustNew([]float64{1, -2}, 2)
	param.SetRequiresGrad(true)
	sumGrad(t, param)
	require.NoError(t, NewSGD([]*tensor.Tensor{param}, 0.1, 0).Step())
	require.InDeltaSlice(t, []float64{0.9, -2.1}, param.Data(), 1e-9)

	param = tensor.MustNew([]float64{1, -2}, 2)
	param.SetRequiresGrad(true)
	opt := NewSGD([]*tensor.Tensor{param}, 0.1, 0.5)
	for i := 0; i < 2; i++ {
		opt.ZeroGrad()
		sumGrad(t, param)
		require.NoError(t, opt.Step())
	}
	require.InDeltaSlice(t, []float64{0.75, -2.25}, param.Data(), 1e-9)
}

func TestAdamConvergesOnQuadratic(t *testing.T) {
	param := tensor.MustNew([]float64{5}, 1)
	param.SetRequiresGrad(true)
	opt := NewAdam([]*tensor.Tensor{param}, 0.05, 0.9, 0.999, 1e-8)
	for i := 0; i < 200; i++ {
		opt.ZeroGrad()
		quadraticStep(t, param, 3)
		require.NoError(t, opt.Step())
	}
	require.InDelta(t, 3, param.Data()[0], 1e-2)
}

func TestAdagradConverges(t *testing.T) {
	param := tensor.MustNew([]float64{2}, 1)
	param.SetRequiresGrad(true)
	opt := NewAdagrad([]*tensor.Tensor{param}, 0.5, 0, 1e-8)
	for i := 0; i < 200; i++ {
		opt.ZeroGrad()
		quadraticStep(t, param, 0)
		require.NoError(t, opt.Step())
	}
	require.InDelta(t, 0, param.Data()[0], 1e-2)
}

func TestAdagradAccumulatorInit(t *testing.T) {
	param := tensor.MustNew([]float64{1}, 1)
	param.SetRequiresGrad(true)
	sumGrad(t, param)
	require.NoError(t, NewAdagrad([]*tensor.Tensor{param}, 1, 3, 1e-12).Step())
	require.InDelta(t, 0.5, param.Data()[0], 1e-9)
}

func TestAdadeltaReducesLoss(t *testing.T) {
	param := tensor.MustNew([]float64{3}, 1)
	param.SetRequiresGrad(true)
	opt := NewAdadelta([]*tensor.Tensor{param}, 1.0, 0.9, 1e-6)
	var first, last float64
	for i := 0; i < 300; i++ {
		opt.ZeroGrad()
		last = quadraticStep(t, param, -1)
		if i == 0 {
			first = last
		}
		require.NoError(t, opt.Step())
	}
	require.Less(t, last, first)
}

func TestGradientClipping(t *testing.T) {
	param := tensor.MustNew([]float64{3, 4}, 2)
	param.SetRequiresGrad(true)
	sumGrad(t, param)

	norm := ClipGradNorm([]*tensor.Tensor{param}, 1.0, 2)
	require.InDelta(t, math.Sqrt(2), norm, 1e-9)
	g := param.Grad().Data()
	require.InDelta(t, 1, math.Hypot(g[0], g[1]), 1e-9)

	param.ZeroGrad()
	sumGrad(t, param)
	ClipGradValue([]*tensor.Tensor{param}, 0.5)
	require.Equal(t, []float64{0.5, 0.5}, param.Grad().Data())
}

func TestOptimClipsBeforeStepping(t *testing.T) {
	param := tensor.MustNew([]float64{0, 0}, 2)
	param.SetRequiresGrad(true)
	o, err := New([]*tensor.Tensor{param}, Config{Method: MethodSGD, LR: 1, MaxGradNorm: 1})
	require.NoError(t, err)
	sumGrad(t, param)
	norm, err := o.Step()
	require.NoError(t, err)
	require.InDelta(t, math.Sqrt(2), norm, 1e-9)
	require.InDeltaSlice(t, []float64{-1 / math.Sqrt(2), -1 / math.Sqrt(2)}, param.Data(), 1e-9)
	o.ZeroGrad()
	require.Nil(t, param.Grad())
}

func TestOptimMethods(t *testing.T) {
	for _, m := range []Method{MethodSGD, MethodAdagrad, MethodAdadelta, MethodAdam, MethodAdamW, MethodRMSProp} {
		param := tensor.MustNew([]float64{1}, 1)
		param.SetRequiresGrad(true)
		o, err := New([]*tensor.Tensor{param}, Config{Method: m, LR: 0.1})
		require.NoError(t, err, "method %s", m)
		quadraticStep(t, param, 0)
		_, err = o.Step()
		require.NoError(t, err)
		require.Less(t, param.Data()[0], 1.0, "method %s", m)
	}
	_, err := New(nil, Config{Method: "lbfgs", LR: 1})
	require.True(t, errors.Is(err, ErrUnknownMethod))
	_, err = New(nil, Config{Method: MethodSGD})
	require.Error(t, err)
}

func TestUpdateLearningRate(t *testing.T) {
	o, err := New(nil, Config{Method: MethodSGD, LR: 1, LRDecay: 0.5, StartDecayAt: 5})
	require.NoError(t, err)
	require.Equal(t, 1.0, o.UpdateLearningRate(10, 1))
	require.Equal(t, 1.0, o.UpdateLearningRate(8, 2))
	require.Equal(t, 0.5, o.UpdateLearningRate(9, 3))
	require.Equal(t, 0.25, o.UpdateLearningRate(7, 4))
	require.Equal(t, 0.25, o.LR())

	o, err = New(nil, Config{Method: MethodAdam, LR: 1, LRDecay: 0.5, StartDecayAt: 2})
	require.NoError(t, err)
	require.Equal(t, 1.0, o.UpdateLearningRate(10, 1))
	require.Equal(t, 0.5, o.UpdateLearningRate(5, 2))
}

func TestAdamWDecaysWithoutGradientScaling(t *testing.T) {
	param := tensor.MustNew([]float64{2}, 1)
	param.SetRequiresGrad(true)
	// zero gradient: Adam's step is 0, so only the decay moves the weight
	require.NoError(t, tensor.MulScalar(tensor.Sum(param), 0).Backward())
	require.NoError(t, NewAdamW([]*tensor.Tensor{param}, 0.1, 0.9, 0.999, 1e-8, 0.5).Step())
	require.InDelta(t, 2-0.1*0.5*2, param.Data()[0], 1e-9)
}

func TestRMSPropConvergesWithMomentum(t *testing.T) {
	param := tensor.MustNew([]float64{4}, 1)
	param.SetRequiresGrad(true)
	opt := NewRMSProp([]*tensor.Tensor{param}, 0.01, 0.9, 1e-8, 0, 0.5)
	for i := 0; i < 400; i++ {
		opt.ZeroGrad()
		quadraticStep(t, param, 1)
		require.NoError(t, opt.Step())
	}
	require.InDelta(t, 1, param.Data()[0], 5e-2)
}
