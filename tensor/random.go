package tensor

import (
	"math/rand"
	"sync"
	"time"
)

var (
	rng     = rand.New(rand.NewSource(time.Now().UnixNano()))
	rngLock sync.Mutex
)

// Seed resets the package generator used by Randn and Dropout.
func Seed(seed int64) {
	rngLock.Lock()
	rng = rand.New(rand.NewSource(seed))
	rngLock.Unlock()
}

func Randn(shape ...int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	data := make([]float64, size)
	rngLock.Lock()
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	rngLock.Unlock()
	return MustNew(data, shape...)
}

// Uniform samples from [-limit, limit].
func Uniform(limit float64, shape ...int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	data := make([]float64, size)
	rngLock.Lock()
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	rngLock.Unlock()
	return MustNew(data, shape...)
}
