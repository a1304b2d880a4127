// Package attention provides the global attention used by the decoders and
// the context gate that fuses decoder inputs with attended outputs.
package attention

import (
	"github.com/pkg/errors"

	"github.com/fumitoshi0524/ixeoriNMT/internal/check"
	"github.com/fumitoshi0524/ixeoriNMT/nn"
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// ScoreKind selects how a query is compared with memory positions.
type ScoreKind string

const (
	ScoreDot     ScoreKind = "dot"
	ScoreGeneral ScoreKind = "general"
	ScoreMLP     ScoreKind = "mlp"
)

// ErrUnknownScore is returned for a score name that is not dot, general or mlp.
var ErrUnknownScore = errors.New("unknown attention score")

// ParseScoreKind maps a configuration name to a ScoreKind.
func ParseScoreKind(s string) (ScoreKind, error) {
	switch k := ScoreKind(s); k {
	case ScoreDot, ScoreGeneral, ScoreMLP:
		return k, nil
	}
	return "", errors.Wrapf(ErrUnknownScore, "%q", s)
}

// Attention is the contract the decoders rely on. memory is batch-major
// [batch, srcLen, dim]. A [batch, dim] query yields a [batch, dim] output and
// a [batch, srcLen] distribution; a [batch, tgtLen, dim] query yields
// time-major [tgtLen, batch, dim] and [tgtLen, batch, srcLen]. Positions at
// or past lengths[b] get exactly zero weight. coverage, when non-nil, is
// [batch, srcLen].
type Attention interface {
	nn.Module
	Attend(query, memory *tensor.Tensor, lengths []int, coverage *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error)
}

// Global is Luong-style global attention:
//
//	dot:     score(h, s) = hᵀ s
//	general: score(h, s) = hᵀ W s
//	mlp:     score(h, s) = vᵀ tanh(W s + U h)
//
// followed by a softmax and output = tanh(W_out [c; h]) (no tanh for mlp).
type Global struct {
	dim      int
	score    ScoreKind
	linearIn *nn.Linear

	linearContext *nn.Linear
	linearQuery   *nn.Linear
	v             *nn.Linear

	linearOut   *nn.Linear
	linearCover *nn.Linear
}

// NewGlobal builds attention over dim-sized queries and memory. With
// coverage set, Attend accepts a running coverage vector.
func NewGlobal(dim int, score ScoreKind, coverage bool) (*Global, error) {
	if dim <= 0 {
		return nil, errors.Errorf("attention dim must be positive, got %d", dim)
	}
	g := &Global{dim: dim, score: score}
	switch score {
	case ScoreDot:
	case ScoreGeneral:
		g.linearIn = nn.NewLinear(dim, dim, false)
	case ScoreMLP:
		g.linearContext = nn.NewLinear(dim, dim, false)
		g.linearQuery = nn.NewLinear(dim, dim, true)
		g.v = nn.NewLinear(dim, 1, false)
	default:
		return nil, errors.Wrapf(ErrUnknownScore, "%q", score)
	}
	g.linearOut = nn.NewLinear(2*dim, dim, score == ScoreMLP)
	if coverage {
		g.linearCover = nn.NewLinear(1, dim, false)
	}
	return g, nil
}

// Dim is the query and memory width.
func (g *Global) Dim() int { return g.dim }

// Score is the configured score function.
func (g *Global) Score() ScoreKind { return g.score }

// Attend implements Attention.
func (g *Global) Attend(query, memory *tensor.Tensor, lengths []int, coverage *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	oneStep := query.Rank() == 2
	q := query
	if oneStep {
		var err error
		if q, err = tensor.Unsqueeze(query, 1); err != nil {
			return nil, nil, err
		}
	}
	qs, ms := q.Shape(), memory.Shape()
	if err := check.Dims("attention query", qs, -1, -1, g.dim); err != nil {
		return nil, nil, err
	}
	if err := check.Dims("attention memory", ms, qs[0], -1, g.dim); err != nil {
		return nil, nil, err
	}
	batch, srcLen := ms[0], ms[1]
	if lengths != nil {
		if err := check.Lengths(lengths, batch, srcLen); err != nil {
			return nil, nil, err
		}
	}

	if coverage != nil {
		if err := check.Dims("coverage", coverage.Shape(), batch, srcLen); err != nil {
			return nil, nil, err
		}
		if g.linearCover == nil {
			return nil, nil, errors.New("attention built without coverage got a coverage tensor")
		}
		cover, err := coverage.Reshape(batch, srcLen, 1)
		if err != nil {
			return nil, nil, err
		}
		proj, err := g.linearCover.Forward(cover)
		if err != nil {
			return nil, nil, err
		}
		sum, err := tensor.Add(memory, proj)
		if err != nil {
			return nil, nil, err
		}
		memory = tensor.Tanh(sum)
	}

	scores, err := g.scores(q, memory)
	if err != nil {
		return nil, nil, err
	}
	if lengths != nil {
		if scores, err = tensor.MaskScores(scores, lengths); err != nil {
			return nil, nil, err
		}
	}
	align, err := tensor.Softmax(scores, -1)
	if err != nil {
		return nil, nil, err
	}
	context, err := tensor.BatchMatMul(align, memory)
	if err != nil {
		return nil, nil, err
	}
	joined, err := tensor.Concat(2, context, q)
	if err != nil {
		return nil, nil, err
	}
	out, err := g.linearOut.Forward(joined)
	if err != nil {
		return nil, nil, err
	}
	if g.score != ScoreMLP {
		out = tensor.Tanh(out)
	}

	if oneStep {
		if out, err = tensor.Squeeze(out, 1); err != nil {
			return nil, nil, err
		}
		if align, err = tensor.Squeeze(align, 1); err != nil {
			return nil, nil, err
		}
		return out, align, nil
	}
	if out, err = tensor.SwapTimeBatch(out); err != nil {
		return nil, nil, err
	}
	if align, err = tensor.SwapTimeBatch(align); err != nil {
		return nil, nil, err
	}
	return out, align, nil
}

// scores returns raw [batch, tgtLen, srcLen] scores.
func (g *Global) scores(q, memory *tensor.Tensor) (*tensor.Tensor, error) {
	if g.score == ScoreMLP {
		return g.mlpScores(q, memory)
	}
	if g.score == ScoreGeneral {
		var err error
		if q, err = g.linearIn.Forward(q); err != nil {
			return nil, err
		}
	}
	keys, err := tensor.Permute(memory, 0, 2, 1)
	if err != nil {
		return nil, err
	}
	return tensor.BatchMatMul(q, keys)
}

func (g *Global) mlpScores(q, memory *tensor.Tensor) (*tensor.Tensor, error) {
	tgtLen, srcLen := q.Dim(1), memory.Dim(1)
	wq, err := g.linearQuery.Forward(q)
	if err != nil {
		return nil, err
	}
	uh, err := g.linearContext.Forward(memory)
	if err != nil {
		return nil, err
	}
	wqExp, err := tensor.Expand(wq, 2, srcLen)
	if err != nil {
		return nil, err
	}
	uhExp, err := tensor.Expand(uh, 1, tgtLen)
	if err != nil {
		return nil, err
	}
	sum, err := tensor.Add(wqExp, uhExp)
	if err != nil {
		return nil, err
	}
	raw, err := g.v.Forward(tensor.Tanh(sum))
	if err != nil {
		return nil, err
	}
	return tensor.Squeeze(raw, 3)
}

// Parameters returns the projection weights of the score and output layers.
func (g *Global) Parameters() []*tensor.Tensor {
	var mods []nn.Module
	for _, l := range []*nn.Linear{g.linearIn, g.linearContext, g.linearQuery, g.v, g.linearOut, g.linearCover} {
		if l != nil {
			mods = append(mods, l)
		}
	}
	return nn.Collect(mods...)
}

// ZeroGrad clears the gradients of every parameter.
func (g *Global) ZeroGrad() {
	for _, p := range g.Parameters() {
		p.ZeroGrad()
	}
}
