// Package executor implements the worker pool: task id allocation, dispatch
// onto worker goroutines, per-task join and batch-join, result/error capture,
// and live worker-count adjustment.
//
// Each task.Task owns its own done channel, so callers join on a handle
// instead of registering a raw completion callback.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotasklets/tasklets/internal/jobpool"
	"github.com/gotasklets/tasklets/internal/lifecycle"
	"github.com/gotasklets/tasklets/internal/metrics"
	"github.com/gotasklets/tasklets/internal/stats"
	"github.com/gotasklets/tasklets/internal/task"
)

// MaxWorkersFor returns the hardware-aware ceiling: 4x hardware
// concurrency, capped at 512.
func MaxWorkersFor(hardwareConcurrency int) int {
	max := hardwareConcurrency * 4
	if max > 512 {
		max = 512
	}
	if max < 1 {
		max = 1
	}
	return max
}

type worker struct {
	id   int
	quit chan struct{}
}

// Executor owns N worker goroutines pulling from a shared dispatch channel.
type Executor struct {
	log *slog.Logger
	lc  *lifecycle.Manager
	sc  *stats.Collector
	mcol atomic.Pointer[metrics.Collector]

	idGen atomic.Uint64

	taskCh chan *task.Task

	mu         sync.Mutex
	workers    []*worker
	maxWorkers int
	started    bool
	stopped    bool

	wg sync.WaitGroup

	hooksMu sync.Mutex
	hooks   []func(*task.Task)

	jobsMu sync.Mutex
	jobs   map[task.ID]*jobpool.Job
}

// New creates an Executor. bufferSize bounds the dispatch channel: Spawn
// returns Unavailable instead of blocking once it is full.
func New(log *slog.Logger, lc *lifecycle.Manager, sc *stats.Collector, bufferSize, maxWorkers int) *Executor {
	if log == nil {
		log = slog.Default()
	}
	if bufferSize < 1 {
		bufferSize = 1024
	}
	if maxWorkers < 1 {
		maxWorkers = MaxWorkersFor(runtime.NumCPU())
	}
	return &Executor{
		log:        log,
		lc:         lc,
		sc:         sc,
		taskCh:     make(chan *task.Task, bufferSize),
		maxWorkers: maxWorkers,
		jobs:       make(map[task.ID]*jobpool.Job),
	}
}

// SetMetrics wires an optional Prometheus collector; nil disables mirroring
// (the default, until tasklets.New wires one in when metrics are enabled).
func (e *Executor) SetMetrics(m *metrics.Collector) { e.mcol.Store(m) }

// Start launches the initial worker count.
func (e *Executor) Start(workerCount int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("executor already started")
	}
	e.started = true
	e.sc.SetWorkerCount(workerCount)
	for i := 0; i < workerCount; i++ {
		e.spawnWorkerLocked()
	}
	return nil
}

func (e *Executor) spawnWorkerLocked() {
	w := &worker{id: len(e.workers), quit: make(chan struct{})}
	e.workers = append(e.workers, w)
	e.wg.Add(1)
	go e.runWorker(w)
}

// OnComplete registers a hook invoked after every task reaches a terminal
// state, outside of any internal lock. Used by the sampler (task history)
// and the controller (job-triggered on-demand sampling).
func (e *Executor) OnComplete(fn func(*task.Task)) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.hooks = append(e.hooks, fn)
}

func (e *Executor) fireHooks(t *task.Task) {
	e.hooksMu.Lock()
	hooks := e.hooks
	e.hooksMu.Unlock()
	for _, h := range hooks {
		h(t)
	}
}

func (e *Executor) storeJob(id task.ID, j *jobpool.Job) {
	e.jobsMu.Lock()
	e.jobs[id] = j
	e.jobsMu.Unlock()
}

// takeJob returns and removes id's pooled job record, if any.
func (e *Executor) takeJob(id task.ID) (*jobpool.Job, bool) {
	e.jobsMu.Lock()
	defer e.jobsMu.Unlock()
	j, ok := e.jobs[id]
	if ok {
		delete(e.jobs, id)
	}
	return j, ok
}

// releaseJob takes id's job record, if any, and returns it to the pool.
func (e *Executor) releaseJob(id task.ID) {
	if j, ok := e.takeJob(id); ok {
		e.lc.ReleaseJob(j)
	}
}

func (e *Executor) runWorker(w *worker) {
	defer e.wg.Done()
	for {
		select {
		case <-w.quit:
			return
		default:
		}
		select {
		case <-w.quit:
			return
		case t, ok := <-e.taskCh:
			if !ok {
				return
			}
			e.execute(w.id, t)
		}
	}
}

func (e *Executor) execute(workerID int, t *task.Task) {
	if !t.MarkStarted() {
		// Already cancelled between dispatch and pickup.
		e.finalize(t)
		return
	}

	e.jobsMu.Lock()
	if j, ok := e.jobs[t.ID()]; ok {
		j.WorkerID = workerID
	}
	e.jobsMu.Unlock()

	var timer *time.Timer
	if d, ok := t.Deadline(); ok {
		timer = time.AfterFunc(time.Until(d), func() { t.MarkTimedOut() })
	}

	result, err := e.runClosure(t)

	if timer != nil {
		timer.Stop()
	}

	if t.Status().Terminal() {
		// The timeout fired first; the closure's late result is discarded.
		// Intentional, not a bug.
		started, _ := t.StartedAt()
		execMillis := int64(time.Since(started) / time.Millisecond)
		e.sc.RecordFailed(workerID, execMillis)
		if m := e.mcol.Load(); m != nil {
			m.RecordFailed(float64(execMillis) / 1000)
		}
		e.finalize(t)
		return
	}

	started, _ := t.StartedAt()
	execMillis := int64(time.Since(started) / time.Millisecond)

	if err != nil {
		t.MarkFailed(task.KindTaskFailure, err.Error())
		e.sc.RecordFailed(workerID, execMillis)
		if m := e.mcol.Load(); m != nil {
			m.RecordFailed(float64(execMillis) / 1000)
		}
	} else {
		t.MarkCompleted(result)
		e.sc.RecordCompleted(workerID, execMillis)
		if m := e.mcol.Load(); m != nil {
			m.RecordCompleted(float64(execMillis) / 1000)
		}
	}

	e.finalize(t)
}

func (e *Executor) runClosure(t *task.Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", task.ErrClosurePanic(), r)
		}
	}()

	ctx := context.Background()
	if d, ok := t.Deadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, d)
		defer cancel()
	}
	return t.Closure()(ctx)
}

func (e *Executor) finalize(t *task.Task) {
	if j, ok := e.takeJob(t.ID()); ok {
		j.EndedAt = time.Now().UnixNano()
		e.lc.ReleaseJob(j)
	}
	e.lc.MarkForCleanup(t.ID())
	e.fireHooks(t)
}

// Spawn allocates a monotonic task id, checks admission, and enqueues the
// closure for dispatch.
func (e *Executor) Spawn(fn task.Closure, priority int, timeout time.Duration) (task.ID, error) {
	if !e.lc.MayAdmit() {
		return 0, task.ErrAdmissionRefused
	}

	id := task.ID(e.idGen.Add(1))
	t := task.New(id, fn, priority, timeout)
	e.lc.Register(t)
	e.sc.RecordCreated()
	if m := e.mcol.Load(); m != nil {
		m.RecordCreated()
	}

	j := e.lc.AcquireJob()
	j.TaskID = id
	j.StartedAt = time.Now().UnixNano()
	e.storeJob(id, j)

	select {
	case e.taskCh <- t:
		return id, nil
	default:
		// Dispatch queue saturated: the task never ran, so undo bookkeeping
		// (it never entered Running, so it is safe to drop outright).
		e.lc.Unregister(id)
		e.releaseJob(id)
		return 0, task.ErrUnavailable
	}
}

// SpawnBatch submits n closures produced by factory, returning their ids in
// submission order. Stops at the first admission/capacity failure.
func (e *Executor) SpawnBatch(n int, factory func(i int) task.Closure, priority int, timeout time.Duration) ([]task.ID, error) {
	ids := make([]task.ID, 0, n)
	for i := 0; i < n; i++ {
		id, err := e.Spawn(factory(i), priority, timeout)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Cancel flips a Pending task to Cancelled. Returns false if the task is
// unknown or already past Pending.
func (e *Executor) Cancel(id task.ID) bool {
	t, ok := e.lc.Lookup(id)
	if !ok {
		return false
	}
	cancelled := t.TryCancel()
	if cancelled {
		e.sc.RecordCancelled()
		if m := e.mcol.Load(); m != nil {
			m.RecordCancelled()
		}
		e.releaseJob(id)
		e.lc.MarkForCleanup(id)
	}
	return cancelled
}

// Join blocks until the task reaches a terminal state, or ctx is done.
// A no-op (returns immediately) if already terminal.
func (e *Executor) Join(ctx context.Context, id task.ID) error {
	t, ok := e.lc.Lookup(id)
	if !ok {
		return task.ErrNotFound
	}
	select {
	case <-t.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JoinAll blocks until every task registered at call entry reaches a
// terminal state. It joins the snapshot present at call entry, so it cannot
// livelock against concurrently-added tasks.
func (e *Executor) JoinAll(ctx context.Context) error {
	return e.JoinBatch(ctx, idsOf(e.lc.Snapshot()))
}

func idsOf(tasks []*task.Task) []task.ID {
	ids := make([]task.ID, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID()
	}
	return ids
}

// JoinBatch blocks until every listed task id reaches a terminal state.
// Unknown ids are skipped (they may have already been cleaned up).
func (e *Executor) JoinBatch(ctx context.Context, ids []task.ID) error {
	for _, id := range ids {
		t, ok := e.lc.Lookup(id)
		if !ok {
			continue
		}
		select {
		case <-t.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Result returns the captured result string, empty before terminal state or
// on error.
func (e *Executor) Result(id task.ID) (string, error) {
	t, ok := e.lc.Lookup(id)
	if !ok {
		return "", task.ErrNotFound
	}
	return t.Result(), nil
}

func (e *Executor) HasError(id task.ID) (bool, error) {
	t, ok := e.lc.Lookup(id)
	if !ok {
		return false, task.ErrNotFound
	}
	return t.HasError(), nil
}

func (e *Executor) Error(id task.ID) (string, error) {
	t, ok := e.lc.Lookup(id)
	if !ok {
		return "", task.ErrNotFound
	}
	return t.ErrorMessage(), nil
}

func (e *Executor) IsFinished(id task.ID) (bool, error) {
	t, ok := e.lc.Lookup(id)
	if !ok {
		return false, task.ErrNotFound
	}
	return t.Status().Terminal(), nil
}

// WorkerCount returns the current live worker count.
func (e *Executor) WorkerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

// MaxWorkers returns the hardware-aware ceiling.
func (e *Executor) MaxWorkers() int { return e.maxWorkers }

// QueueLength returns the number of tasks currently buffered in the dispatch
// channel, awaiting a free worker. Consumed by the sampler.
func (e *Executor) QueueLength() int { return len(e.taskCh) }

// SetWorkerCount adjusts the live worker count within [1, max]. A no-op for
// n equal to the current count. Shrinking signals excess workers to drain
// after their in-flight task completes; growing spawns new goroutines
// immediately.
func (e *Executor) SetWorkerCount(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if n == len(e.workers) {
		return nil
	}
	if n < 1 || n > e.maxWorkers {
		return task.ErrConfigurationInvalid
	}

	current := len(e.workers)
	if n > current {
		for i := 0; i < n-current; i++ {
			e.spawnWorkerLocked()
		}
	} else {
		toStop := e.workers[n:]
		e.workers = e.workers[:n]
		for _, w := range toStop {
			close(w.quit)
		}
	}
	e.sc.SetWorkerCount(n)
	return nil
}

// Stats returns the executor's statistics snapshot.
func (e *Executor) Stats() stats.Snapshot {
	snap := e.sc.Snapshot()
	snap.Workers = e.WorkerCount()
	return snap
}

// Shutdown signals every worker to exit and waits for their in-flight tasks
// to drain. Tasks still buffered in the dispatch channel are not run, and
// Spawn does not refuse submissions made after Shutdown.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	workers := e.workers
	e.workers = nil
	e.mu.Unlock()

	for _, w := range workers {
		close(w.quit)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
