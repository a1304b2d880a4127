// Package loss holds the training objectives driven by the model's
// generator output.
package loss

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// NLLLoss averages -logProb[i, target[i]] over the rows whose target is not
// ignoreIndex. It returns the scalar loss and the number of counted rows.
// Rows with an ignored target get no gradient.
func NLLLoss(logProb *tensor.Tensor, target []int, ignoreIndex int) (*tensor.Tensor, int, error) {
	shape := logProb.Shape()
	if len(shape) != 2 {
		return nil, 0, errors.Wrapf(check.ErrShapeMismatch, "NLLLoss expects [rows, classes], got %v", shape)
	}
	rows, classes := shape[0], shape[1]
	if err := check.Equal("targets vs rows", len(target), rows); err != nil {
		return nil, 0, err
	}
	pick := make([]float64, rows*classes)
	counted := 0
	for i, label := range target {
		if label == ignoreIndex {
			continue
		}
		if label < 0 || label >= classes {
			return nil, 0, errors.Errorf("target %d of row %d outside [0, %d)", label, i, classes)
		}
		pick[i*classes+label] = 1
		counted++
	}
	if counted == 0 {
		return nil, 0, errors.New("every target is ignored")
	}
	picked, err := tensor.Mul(logProb, tensor.MustNew(pick, rows, classes))
	if err != nil {
		return nil, 0, err
	}
	return tensor.MulScalar(tensor.Sum(picked), -1/float64(counted)), counted, nil
}

// SequenceNLL scores time-major [time, batch, vocab] log-probabilities
// against [time, batch, channels] gold ids, reading channel 0 and skipping
// padIndex.
func SequenceNLL(logProbs, gold *tensor.Tensor, padIndex int) (*tensor.Tensor, int, error) {
	ls, gs := logProbs.Shape(), gold.Shape()
	if len(ls) != 3 || len(gs) != 3 {
		return nil, 0, errors.Wrapf(check.ErrShapeMismatch, "SequenceNLL expects rank-3 inputs, got %v and %v", ls, gs)
	}
	if err := check.Equal("log-prob vs gold time", ls[0], gs[0]); err != nil {
		return nil, 0, err
	}
	if err := check.Equal("log-prob vs gold batch", ls[1], gs[1]); err != nil {
		return nil, 0, err
	}
	words, err := tensor.Narrow(gold, 2, 0, 1)
	if err != nil {
		return nil, 0, err
	}
	flat, err := logProbs.Reshape(ls[0]*ls[1], ls[2])
	if err != nil {
		return nil, 0, err
	}
	return NLLLoss(flat, words.Ints(), padIndex)
}
