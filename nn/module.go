// Package nn holds the trainable building blocks shared by encoders and
// decoders: projections, embeddings, recurrent cells and transducers.
package nn

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// Module is anything that owns trainable parameters.
type Module interface {
	Parameters() []*tensor.Tensor
	ZeroGrad()
}

// Layer maps one tensor to another.
type Layer interface {
	Module
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
}

type StatefulModule interface {
	Module
	StateDict(prefix string, state map[string]*tensor.Tensor)
	LoadState(prefix string, state map[string]*tensor.Tensor) error
}

// Trainable modules switch dropout on and off.
type Trainable interface {
	SetTraining(training bool)
}

// Collect concatenates the parameters of every non-nil module.
func Collect(mods ...Module) []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, m := range mods {
		if m == nil {
			continue
		}
		params = append(params, m.Parameters()...)
	}
	return params
}

func ZeroGradAll(mods ...Module) {
	for _, m := range mods {
		if m == nil {
			continue
		}
		m.ZeroGrad()
	}
}

func zeroGrad(params []*tensor.Tensor) {
	for _, p := range params {
		if p != nil {
			p.ZeroGrad()
		}
	}
}

// SetTraining forwards the mode to every value implementing Trainable.
func SetTraining(training bool, mods ...interface{}) {
	for _, m := range mods {
		if t, ok := m.(Trainable); ok && t != nil {
			t.SetTraining(training)
		}
	}
}

func SaveModule(path string, mod Module) error {
	if mod == nil {
		return errors.New("SaveModule requires non-nil module")
	}
	state := make(map[string]*tensor.Tensor)
	if sm, ok := mod.(StatefulModule); ok {
		sm.StateDict("", state)
	} else {
		captureParameters("", mod, state)
	}
	if len(state) == 0 {
		return errors.New("module has no state to save")
	}
	return tensor.SaveTensors(path, state)
}

func LoadModule(path string, mod Module) error {
	if mod == nil {
		return errors.New("LoadModule requires non-nil module")
	}
	state, err := tensor.LoadTensors(path)
	if err != nil {
		return err
	}
	if sm, ok := mod.(StatefulModule); ok {
		return sm.LoadState("", state)
	}
	return loadParameters("", mod, state)
}

func joinPrefix(prefix, name string) string {
	if prefix == "" {
		return name
	}
	if name == "" {
		return prefix
	}
	return prefix + "." + name
}

func captureParameters(prefix string, mod Module, state map[string]*tensor.Tensor) {
	for idx, p := range mod.Parameters() {
		if p == nil {
			continue
		}
		state[joinPrefix(prefix, fmt.Sprintf("param_%d", idx))] = p.Clone()
	}
}

func loadParameters(prefix string, mod Module, state map[string]*tensor.Tensor) error {
	for idx, p := range mod.Parameters() {
		if p == nil {
			continue
		}
		key := joinPrefix(prefix, fmt.Sprintf("param_%d", idx))
		t, ok := state[key]
		if !ok {
			return errors.Errorf("missing parameter %s", key)
		}
		if err := tensor.CopyInto(p, t); err != nil {
			return errors.Wrapf(err, "load %s", key)
		}
	}
	return nil
}

func loadInto(kind string, dst *tensor.Tensor, key string, state map[string]*tensor.Tensor) error {
	src, ok := state[key]
	if !ok {
		return errors.Errorf("%s missing %s", kind, key)
	}
	return errors.Wrapf(tensor.CopyInto(dst, src), "load %s", key)
}
