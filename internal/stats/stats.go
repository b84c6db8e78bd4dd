// Package stats implements the executor's lock-minimal counters.
//
// Counters are atomic so the hot path never takes a lock; the same numbers
// are mirrored out to Prometheus separately, in internal/metrics.
package stats

import (
	"sync"
	"sync/atomic"
)

// Snapshot is the stable-shape statistics surface returned to callers.
type Snapshot struct {
	Active               int64
	Created              int64
	Completed            int64
	Failed               int64
	Cancelled            int64
	Workers              int
	TotalExecutionMillis int64
	AvgExecutionMillis   float64
	SuccessRatePercent   float64
	PerWorker            []int64
}

// Collector holds atomic counters plus a running sum of execution time.
// Snapshot() loads the counters atomically and takes a brief lock only to
// copy the per-worker vector, never across an OS call or user closure;
// derived fields are computed from those copies after the lock is released.
type Collector struct {
	created   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	active    atomic.Int64
	totalExec atomic.Int64 // milliseconds

	mu        sync.Mutex
	perWorker []int64
}

func New(workerCount int) *Collector {
	c := &Collector{}
	c.SetWorkerCount(workerCount)
	return c
}

func (c *Collector) SetWorkerCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perWorker = make([]int64, n)
}

func (c *Collector) RecordCreated() { c.created.Add(1); c.active.Add(1) }

func (c *Collector) RecordCompleted(workerID int, execMillis int64) {
	c.completed.Add(1)
	c.active.Add(-1)
	c.totalExec.Add(execMillis)
	c.bumpWorker(workerID)
}

func (c *Collector) RecordFailed(workerID int, execMillis int64) {
	c.failed.Add(1)
	c.active.Add(-1)
	c.totalExec.Add(execMillis)
	c.bumpWorker(workerID)
}

// RecordCancelled accounts for a task cancelled before it ever started
// running: it leaves active bookkeeping (bumped by RecordCreated) and has no
// worker or execution time to attribute.
func (c *Collector) RecordCancelled() {
	c.cancelled.Add(1)
	c.active.Add(-1)
}

func (c *Collector) bumpWorker(workerID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if workerID >= 0 && workerID < len(c.perWorker) {
		c.perWorker[workerID]++
	}
}

// Reset clears all counters except worker count.
func (c *Collector) Reset() {
	c.created.Store(0)
	c.completed.Store(0)
	c.failed.Store(0)
	c.cancelled.Store(0)
	c.active.Store(0)
	c.totalExec.Store(0)
	c.mu.Lock()
	for i := range c.perWorker {
		c.perWorker[i] = 0
	}
	c.mu.Unlock()
}

func (c *Collector) Snapshot() Snapshot {
	created := c.created.Load()
	completed := c.completed.Load()
	failed := c.failed.Load()
	cancelled := c.cancelled.Load()
	active := c.active.Load()
	totalExec := c.totalExec.Load()

	c.mu.Lock()
	perWorker := make([]int64, len(c.perWorker))
	copy(perWorker, c.perWorker)
	workers := len(c.perWorker)
	c.mu.Unlock()

	var avgExec, successRate float64
	if completed+failed > 0 {
		avgExec = float64(totalExec) / float64(completed+failed)
	}
	if created > 0 {
		successRate = 100 * float64(completed) / float64(created)
	}

	return Snapshot{
		Active:               active,
		Created:              created,
		Completed:            completed,
		Failed:               failed,
		Cancelled:            cancelled,
		Workers:              workers,
		TotalExecutionMillis: totalExec,
		AvgExecutionMillis:   avgExec,
		SuccessRatePercent:   successRate,
		PerWorker:            perWorker,
	}
}
