package workerpool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testPoolRunsAllJobs(t *testing.T, p Pool) {
	t.Helper()
	var n atomic.Int64
	const jobs = 50
	for i := 0; i < jobs; i++ {
		p.Spawn(func() { n.Add(1) })
	}
	p.Close()
	assert.Equal(t, int64(jobs), n.Load())
}

func TestNaivePoolRunsAllJobs(t *testing.T) {
	testPoolRunsAllJobs(t, NewNaive())
}

func TestSharedQueuePoolRunsAllJobs(t *testing.T) {
	testPoolRunsAllJobs(t, NewSharedQueue(4))
}

func TestBoundedPoolRunsAllJobs(t *testing.T) {
	testPoolRunsAllJobs(t, NewBounded(4))
}

func TestBoundedPoolCapsConcurrency(t *testing.T) {
	p := NewBounded(2)
	var current, max atomic.Int64

	for i := 0; i < 20; i++ {
		p.Spawn(func() {
			c := current.Add(1)
			for {
				m := max.Load()
				if c <= m || max.CompareAndSwap(m, c) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
		})
	}
	p.Close()
	assert.LessOrEqual(t, max.Load(), int64(2))
}

func TestPoolRecoversFromPanickingJob(t *testing.T) {
	for _, p := range []Pool{NewNaive(), NewSharedQueue(2), NewBounded(2)} {
		done := make(chan struct{})
		p.Spawn(func() {
			defer close(done)
			panic("boom")
		})
		<-done
		p.Close()
	}
}
