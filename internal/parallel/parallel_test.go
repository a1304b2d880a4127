package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForCoversEntireRange(t *testing.T) {
	n := 37
	counts := make([]int32, n)
	For(n, func(start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&counts[i], 1)
		}
	})
	for i, c := range counts {
		require.EqualValues(t, 1, c, "index %d", i)
	}
}

func TestForNoopOnNonPositive(t *testing.T) {
	called := false
	For(0, func(start, end int) {
		called = true
	})
	require.False(t, called)
}

func TestForGrainSmallRangeRunsInline(t *testing.T) {
	var calls int32
	ForGrain(10, ElementGrain, func(start, end int) {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, 0, start)
		require.Equal(t, 10, end)
	})
	require.EqualValues(t, 1, calls)
}

func TestForGrainCoversLargeRange(t *testing.T) {
	n := 5*ElementGrain + 3
	var total int64
	ForGrain(n, ElementGrain, func(start, end int) {
		atomic.AddInt64(&total, int64(end-start))
	})
	require.EqualValues(t, n, total)
}
