// Package jobpool implements the bounded free-list of reusable Job records
// that back every dispatched task.
//
// Acquire/Release/Resize around a mutex-guarded slice, tracking
// total-created/in-use/max-pool-size counters.
package jobpool

import (
	"sync"

	"github.com/gotasklets/tasklets/internal/task"
)

// Job is the pooled shell that a task.Task populates at dispatch and
// releases once the task reaches a terminal state. It is either Free (in the pool), InUse (owned by
// exactly one task), or Resetting (transient).
type Job struct {
	WorkerID  int
	TaskID    task.ID
	StartedAt int64
	EndedAt   int64
}

func (j *Job) reset() {
	j.WorkerID = 0
	j.TaskID = 0
	j.StartedAt = 0
	j.EndedAt = 0
}

// Stats mirrors ObjectPool<T>::PoolStats from the original source.
type Stats struct {
	TotalCreated int
	Free         int
	InUse        int
	Max          int
}

// Pool is a bounded free-list of *Job. Acquire never blocks: if the free
// list is empty it allocates a fresh Job. Release drops the record instead
// of re-admitting it once the free list is at its max.
type Pool struct {
	mu           sync.Mutex
	free         []*Job
	max          int
	totalCreated int
	inUse        int
}

// New creates a pool seeded with `initial` free records, bounded at `max`.
func New(initial, max int) *Pool {
	if max < 1 {
		max = 1
	}
	if initial > max {
		initial = max
	}
	p := &Pool{max: max}
	for i := 0; i < initial; i++ {
		p.free = append(p.free, &Job{})
		p.totalCreated++
	}
	return p
}

// Acquire returns a freshly reset Job, allocating one if the pool is empty.
func (p *Pool) Acquire() *Job {
	p.mu.Lock()
	defer p.mu.Unlock()

	var j *Job
	if n := len(p.free); n > 0 {
		j = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		j = &Job{}
		p.totalCreated++
	}
	p.inUse++
	return j
}

// Release resets the record and returns it to the free list, or drops it if
// the free list is already at max. Reset-before-readmit is an invariant, not
// an optimization: acquirers must never observe stale state.
func (p *Pool) Release(j *Job) {
	if j == nil {
		return
	}
	j.reset()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inUse > 0 {
		p.inUse--
	}
	if len(p.free) < p.max {
		p.free = append(p.free, j)
	}
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		TotalCreated: p.totalCreated,
		Free:         len(p.free),
		InUse:        p.inUse,
		Max:          p.max,
	}
}

// Resize changes the pool's maximum free-list size. Shrinking drops free
// records beyond the new maximum; growing simply raises the ceiling.
func (p *Pool) Resize(max int) {
	if max < 1 {
		max = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.max = max
	if len(p.free) > max {
		p.free = p.free[:max]
	}
}
