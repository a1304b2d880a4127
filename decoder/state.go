package decoder

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// ErrZeroState is returned by operations that need an initialized State.
var ErrZeroState = errors.New("decoder state is not initialized")

// State carries everything a decoder needs between calls: the recurrent
// state [layers, batch, hidden], the input feed [1, batch, hidden] and an
// optional coverage [1, batch, srcLen]. Every tensor shares axis 1 as the
// batch axis. State values are never mutated; each operation returns a new
// State.
type State struct {
	hidden    nn.State
	inputFeed *tensor.Tensor
	coverage  *tensor.Tensor
}

// NewState wraps a reconciled recurrent state and zeroes the input feed.
func NewState(hiddenSize int, hidden nn.State) (State, error) {
	if hidden.IsZero() {
		return State{}, errors.New("decoder state needs a recurrent state")
	}
	shape := hidden.Shape()
	if err := check.Dims("decoder hidden", shape, -1, -1, hiddenSize); err != nil {
		return State{}, err
	}
	return State{hidden: hidden, inputFeed: tensor.Zeros(1, shape[1], hiddenSize)}, nil
}

// IsZero reports whether s is the zero State.
func (s State) IsZero() bool { return s.hidden.IsZero() }

// Hidden is the recurrent state [layers, batch, hidden].
func (s State) Hidden() nn.State { return s.hidden }

// InputFeed is the previous step's attended output [1, batch, hidden].
func (s State) InputFeed() *tensor.Tensor { return s.inputFeed }

// Coverage is nil until a coverage-tracking decoder has run.
func (s State) Coverage() *tensor.Tensor { return s.coverage }

// BatchSize is the size of the batch axis, 0 for the zero State.
func (s State) BatchSize() int {
	if s.IsZero() {
		return 0
	}
	return s.hidden.Shape()[1]
}

// Update returns the state after a decode call. coverage may be nil.
func (s State) Update(hidden nn.State, inputFeed, coverage *tensor.Tensor) (State, error) {
	if s.IsZero() {
		return State{}, errors.Wrap(ErrZeroState, "update")
	}
	next := State{hidden: hidden, inputFeed: inputFeed, coverage: coverage}
	if err := next.checkBatch(s.BatchSize()); err != nil {
		return State{}, err
	}
	return next, nil
}

func (s State) checkBatch(batch int) error {
	for _, t := range s.all() {
		if err := check.Equal("decoder state batch", t.Dim(1), batch); err != nil {
			return err
		}
	}
	return nil
}

func (s State) all() []*tensor.Tensor {
	out := append(s.hidden.Channels(), s.inputFeed)
	if s.coverage != nil {
		out = append(out, s.coverage)
	}
	return out
}

// mapAll applies fn to every held tensor.
func (s State) mapAll(fn func(*tensor.Tensor) (*tensor.Tensor, error)) (State, error) {
	hidden, err := s.hidden.Map(fn)
	if err != nil {
		return State{}, err
	}
	feed, err := fn(s.inputFeed)
	if err != nil {
		return State{}, err
	}
	next := State{hidden: hidden, inputFeed: feed}
	if s.coverage != nil {
		if next.coverage, err = fn(s.coverage); err != nil {
			return State{}, err
		}
	}
	return next, nil
}

// Detach cuts every tensor loose from its autograd history. The zero State
// detaches to itself.
func (s State) Detach() State {
	if s.IsZero() {
		return s
	}
	// the mapping function never fails, so neither does mapAll
	next, _ := s.mapAll(func(t *tensor.Tensor) (*tensor.Tensor, error) { return t.Detach(), nil })
	return next
}

// BeamUpdate reorders the hypotheses of sentence idx. The batch axis is laid
// out beam-major, row k*batch/beamSize+idx holding hypothesis k; after the
// update hypothesis k holds what hypothesis positions[k] held before.
func (s State) BeamUpdate(idx int, positions []int, beamSize int) (State, error) {
	if s.IsZero() {
		return State{}, errors.Wrap(ErrZeroState, "beam update")
	}
	rows := s.BatchSize()
	if beamSize <= 0 || rows%beamSize != 0 {
		return State{}, errors.Wrapf(check.ErrShapeMismatch, "batch %d is not a multiple of beam size %d", rows, beamSize)
	}
	if err := check.Equal("beam positions", len(positions), beamSize); err != nil {
		return State{}, err
	}
	sentences := rows / beamSize
	if idx < 0 || idx >= sentences {
		return State{}, errors.Errorf("sentence %d outside [0, %d)", idx, sentences)
	}
	dst := make([]int, beamSize)
	src := make([]int, beamSize)
	for k, p := range positions {
		if p < 0 || p >= beamSize {
			return State{}, errors.Errorf("beam position %d outside [0, %d)", p, beamSize)
		}
		dst[k] = k*sentences + idx
		src[k] = p*sentences + idx
	}
	return s.mapAll(func(t *tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.IndexCopy(t, 1, dst, src)
	})
}

// RepeatBeam tiles every tensor beamSize times along the batch axis.
func (s State) RepeatBeam(beamSize int) (State, error) {
	if s.IsZero() {
		return State{}, errors.Wrap(ErrZeroState, "repeat beam")
	}
	if beamSize <= 0 {
		return State{}, errors.Errorf("beam size must be positive, got %d", beamSize)
	}
	return s.mapAll(func(t *tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.Tile(t.Detach(), 1, beamSize)
	})
}

// reconcile folds [layers*2, batch, h] bidirectional slices into
// [layers, batch, 2h]; slice i becomes concat(2i, 2i+1).
func reconcile(h *tensor.Tensor, bidirectional bool) (*tensor.Tensor, error) {
	if !bidirectional {
		return h, nil
	}
	slices := h.Dim(0)
	if slices%2 != 0 {
		return nil, errors.Wrapf(check.ErrShapeMismatch, "bidirectional state has odd slice count %d", slices)
	}
	var fwd, bwd []int
	for i := 0; i < slices; i += 2 {
		fwd = append(fwd, i)
		bwd = append(bwd, i+1)
	}
	forward, err := tensor.IndexSelect(h, 0, fwd)
	if err != nil {
		return nil, err
	}
	backward, err := tensor.IndexSelect(h, 0, bwd)
	if err != nil {
		return nil, err
	}
	return tensor.Concat(2, forward, backward)
}
