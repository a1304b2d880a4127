package model

import (
	"github.com/fumitoshi0524/ixeoriNMT/tensor"
)

// mergeOrder returns one time order per batch row for two streams laid end
// to end along time (first stream of length firstSteps, then the second).
// The order moves a row's valid second-stream positions directly behind its
// valid first-stream positions, so the row's real tokens form a prefix of
// length first[b]+second[b]; padding follows.
func mergeOrder(firstSteps, secondSteps int, first, second []int) [][]int {
	orders := make([][]int, len(first))
	for b := range first {
		order := make([]int, 0, firstSteps+secondSteps)
		for t := 0; t < first[b]; t++ {
			order = append(order, t)
		}
		for t := 0; t < second[b]; t++ {
			order = append(order, firstSteps+t)
		}
		for t := first[b]; t < firstSteps; t++ {
			order = append(order, t)
		}
		for t := second[b]; t < secondSteps; t++ {
			order = append(order, firstSteps+t)
		}
		orders[b] = order
	}
	return orders
}

// permuteTime reorders every batch row of a [time, batch, ...] tensor along
// time by that row's order. Gradients flow back through the gather.
func permuteTime(t *tensor.Tensor, orders [][]int) (*tensor.Tensor, error) {
	shape := t.Shape()
	steps, batch := shape[0], shape[1]
	flat, err := t.Reshape(append([]int{steps * batch}, shape[2:]...)...)
	if err != nil {
		return nil, err
	}
	index := make([]int, steps*batch)
	for b, order := range orders {
		for s, from := range order {
			index[s*batch+b] = from*batch + b
		}
	}
	gathered, err := tensor.IndexSelect(flat, 0, index)
	if err != nil {
		return nil, err
	}
	return gathered.Reshape(shape...)
}

func sumLengths(a, b []int) []int {
	out := make([]int, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}
