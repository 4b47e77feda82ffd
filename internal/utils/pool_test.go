package utils

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_WorkerPool_RunsAllJobs(t *testing.T) {
	pool := NewWorkerPool(3)

	var done atomic.Int32
	for i := 0; i < 20; i++ {
		pool.Submit(func() {
			done.Add(1)
		})
	}
	pool.Wait()

	assert.Equal(t, int32(20), done.Load())
}

func Test_WorkerPool_BoundsConcurrency(t *testing.T) {
	const bound = 2
	pool := NewWorkerPool(bound)

	var inFlight, peak atomic.Int32
	for i := 0; i < 10; i++ {
		pool.Submit(func() {
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		})
	}
	pool.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(bound))
}

func Test_NewWorkerPool_MinimumBound(t *testing.T) {
	pool := NewWorkerPool(0)

	var done atomic.Int32
	pool.Submit(func() { done.Add(1) })
	pool.Wait()

	assert.Equal(t, int32(1), done.Load())
}
