// Package workerpool provides the interchangeable job-dispatch
// strategies the server uses to run each client request off the
// accept loop, grounded in original_source's src/thread_pool module:
// a Naive pool (one goroutine per job), a SharedQueue pool (a fixed
// worker set draining a shared channel), and a Bounded pool built on
// golang.org/x/sync/semaphore for a caller-supplied concurrency cap.
package workerpool

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/rust-kv/rust-kv/internal/kvlog"
)

// Pool dispatches jobs for execution, tolerating panics in the job
// itself so one bad request can't take down the server.
type Pool interface {
	// Spawn schedules job for execution. A Naive pool never blocks the
	// caller; a SharedQueue pool blocks until a worker is free to take
	// the job; a Bounded pool blocks once its concurrency cap is
	// saturated.
	Spawn(job func())
	// Close stops accepting new jobs and waits for in-flight ones to
	// finish.
	Close()
}

func recoverPanic(log *logrus.Logger, job func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("workerpool: job panicked: %v", r)
		}
	}()
	job()
}

// naivePool spawns a fresh goroutine per job, exactly like
// original_source's NaiveThreadPool. There is no cap and no queue.
type naivePool struct {
	log *logrus.Logger
	wg  sync.WaitGroup
}

// NewNaive returns a Pool with no concurrency limit.
func NewNaive() Pool {
	return &naivePool{log: kvlog.Logger}
}

func (p *naivePool) Spawn(job func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		recoverPanic(p.log, job)
	}()
}

func (p *naivePool) Close() {
	p.wg.Wait()
}

// sharedQueuePool runs a fixed number of worker goroutines pulling
// jobs off one shared channel, mirroring original_source's
// SharedQueueThreadPool.
type sharedQueuePool struct {
	log     *logrus.Logger
	jobs    chan func()
	workers sync.WaitGroup
}

// NewSharedQueue starts n worker goroutines draining a shared job
// queue. n must be at least 1.
func NewSharedQueue(n int) Pool {
	if n < 1 {
		n = 1
	}
	p := &sharedQueuePool{
		log:  kvlog.Logger,
		jobs: make(chan func()),
	}
	p.workers.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *sharedQueuePool) worker() {
	defer p.workers.Done()
	for job := range p.jobs {
		recoverPanic(p.log, job)
	}
}

func (p *sharedQueuePool) Spawn(job func()) {
	p.jobs <- job
}

func (p *sharedQueuePool) Close() {
	close(p.jobs)
	p.workers.Wait()
}

// boundedPool caps the number of jobs running concurrently using a
// weighted semaphore, for deployments that want a hard ceiling
// instead of the unbounded fan-out of naivePool.
type boundedPool struct {
	log *logrus.Logger
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewBounded returns a Pool that never runs more than max jobs at
// once; Spawn blocks until a slot is free.
func NewBounded(max int64) Pool {
	if max < 1 {
		max = 1
	}
	return &boundedPool{
		log: kvlog.Logger,
		sem: semaphore.NewWeighted(max),
	}
}

func (p *boundedPool) Spawn(job func()) {
	// Acquire never fails against context.Background().
	_ = p.sem.Acquire(context.Background(), 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		recoverPanic(p.log, job)
	}()
}

func (p *boundedPool) Close() {
	p.wg.Wait()
}
