package tensor

import "github.com/pkg/errors"

// Embedding looks up rows of weight for every value of index.
// weight shape: [num_embeddings, embedding_dim...]
// index shape: arbitrary; values are treated as integer indices.
// Rows looked up at padIdx receive no gradient; pass -1 to train every row.
func Embedding(weight *Tensor, index *Tensor, padIdx int) (*Tensor, error) {
	if index == nil {
		return nil, errors.New("index tensor required")
	}
	if len(weight.shape) < 2 {
		return nil, errors.Wrapf(ErrShape, "embedding weight must have rank >= 2, got %v", weight.shape)
	}
	numEmb := weight.shape[0]
	embedSize := 1
	for _, dim := range weight.shape[1:] {
		embedSize *= dim
	}
	outShape := append([]int(nil), index.shape...)
	outShape = append(outShape, weight.shape[1:]...)
	out := Zeros(outShape...)
	rows := make([]int, len(index.data))
	for idx, v := range index.data {
		val := int(v)
		if val < 0 || val >= numEmb {
			return nil, errors.Errorf("embedding index %d out of range [0, %d)", val, numEmb)
		}
		rows[idx] = val
		copy(out.data[idx*embedSize:(idx+1)*embedSize], weight.data[val*embedSize:(val+1)*embedSize])
	}
	unary(out, weight, func(grad *Tensor) *Tensor {
		g := Zeros(weight.shape...)
		for idx, val := range rows {
			if val == padIdx {
				continue
			}
			src := grad.data[idx*embedSize : (idx+1)*embedSize]
			dst := g.data[val*embedSize : (val+1)*embedSize]
			for j := range dst {
				dst[j] += src[j]
			}
		}
		return g
	})
	return out, nil
}
