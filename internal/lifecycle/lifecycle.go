// Package lifecycle implements the task registry, deferred cleanup queue,
// and memory-pressure admission gate. System CPU/memory reads go through
// github.com/shirou/gopsutil/v3; cleanup runs on a timer re-armed with the
// current interval after every pass, with a stopCh for graceful shutdown.
package lifecycle

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/gotasklets/tasklets/internal/jobpool"
	"github.com/gotasklets/tasklets/internal/metrics"
	"github.com/gotasklets/tasklets/internal/task"
)

// MemoryStats mirrors memory_manager.hpp's MemoryStats structure.
type MemoryStats struct {
	ActiveTasks           int
	PendingCleanup        int
	TotalCreated          uint64
	CleanupOperations     uint64
	TimeSinceLastCleanup  time.Duration
	SystemTotalBytes      uint64
	SystemFreeBytes       uint64
	SystemUsedBytes       uint64
	SystemUsagePercent    float64
	Pool                  jobpool.Stats
}

// Manager registers tasks for weak-style tracking, runs periodic cleanup,
// and enforces admission backpressure.
//
// Go has no pre-weak-package weak pointers at this module's target Go
// version, so the registry instead drops its entry at the first cleanup
// pass after mark_for_cleanup that finds the task terminal (or at once via
// Unregister), rather than waiting on an actual weak-reference expiry check. This still satisfies the invariant
// that the registry alone never extends a task's life past cleanup — it
// just uses an explicit release signal instead of GC-observable weakness.
type Manager struct {
	log *slog.Logger

	pool *jobpool.Pool
	mcol atomic.Pointer[metrics.Collector]

	mu       sync.Mutex
	registry map[task.ID]*task.Task
	queue    []task.ID
	inQueue  map[task.ID]bool

	memoryLimitPercent atomic.Value // float64
	cleanupInterval    atomic.Int64 // nanoseconds

	totalCreated      atomic.Uint64
	cleaned           atomic.Uint64
	cleanupOperations atomic.Uint64
	lastCleanup       atomic.Int64 // unix nano

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Manager backed by the given job pool.
func New(log *slog.Logger, pool *jobpool.Pool, memoryLimitPercent float64, cleanupInterval time.Duration) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		log:      log,
		pool:     pool,
		registry: make(map[task.ID]*task.Task),
		inQueue:  make(map[task.ID]bool),
		stopCh:   make(chan struct{}),
	}
	m.memoryLimitPercent.Store(memoryLimitPercent)
	m.cleanupInterval.Store(int64(cleanupInterval))
	m.lastCleanup.Store(time.Now().UnixNano())
	return m
}

// SetMetrics wires an optional Prometheus collector; nil disables mirroring.
func (m *Manager) SetMetrics(mc *metrics.Collector) { m.mcol.Store(mc) }

// Start launches the periodic cleanup tick on its own goroutine.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.cleanupLoop()
}

// Stop halts the cleanup goroutine.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	for {
		interval := time.Duration(m.cleanupInterval.Load())
		if interval <= 0 {
			interval = time.Second
		}
		timer := time.NewTimer(interval)
		select {
		case <-m.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			m.runCleanup()
		}
	}
}

// Register inserts a task into the registry (weak-style) and counts it as
// created.
func (m *Manager) Register(t *task.Task) {
	m.mu.Lock()
	m.registry[t.ID()] = t
	m.mu.Unlock()
	m.totalCreated.Add(1)
}

// MarkForCleanup appends a task id to the deferred cleanup queue. A task id
// appears at most once between enqueue and the next cleanup tick.
func (m *Manager) MarkForCleanup(id task.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inQueue[id] {
		return
	}
	m.inQueue[id] = true
	m.queue = append(m.queue, id)
}

// Unregister immediately removes a task id — the fast path for
// spawn->join->drop usage.
func (m *Manager) Unregister(id task.ID) {
	m.mu.Lock()
	_, existed := m.registry[id]
	delete(m.registry, id)
	delete(m.inQueue, id)
	m.mu.Unlock()
	if existed {
		m.cleaned.Add(1)
	}
}

// Lookup returns the tracked task record for id, if still registered.
func (m *Manager) Lookup(id task.ID) (*task.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.registry[id]
	return t, ok
}

// Snapshot returns every currently-registered task, used by JoinAll to
// capture the id set present at call entry.
func (m *Manager) Snapshot() []*task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*task.Task, 0, len(m.registry))
	for _, t := range m.registry {
		out = append(out, t)
	}
	return out
}

// Accounting is the registry-level accounting identity:
// Created == Active+Completed+Failed+Cancelled+Cleaned.
type Accounting struct {
	Created   uint64
	Active    uint64
	Completed uint64
	Failed    uint64
	Cancelled uint64
	Cleaned   uint64
}

// AccountingSnapshot computes the accounting identity by classifying every
// registered task by status; cleaned tasks have already left the registry
// and are counted via the cumulative cleaned counter instead.
func (m *Manager) AccountingSnapshot() Accounting {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active, completed, failed, cancelled uint64
	for _, t := range m.registry {
		switch t.Status() {
		case task.Pending, task.Running:
			active++
		case task.Completed:
			completed++
		case task.Failed:
			failed++
		case task.Cancelled:
			cancelled++
		}
	}

	return Accounting{
		Created:   m.totalCreated.Load(),
		Active:    active,
		Completed: completed,
		Failed:    failed,
		Cancelled: cancelled,
		Cleaned:   m.cleaned.Load(),
	}
}

// AcquireJob / ReleaseJob pass through to the object pool.
func (m *Manager) AcquireJob() *jobpool.Job   { return m.pool.Acquire() }
func (m *Manager) ReleaseJob(j *jobpool.Job)  { m.pool.Release(j) }

// SetMemoryLimitPercent updates the admission gate's ceiling.
func (m *Manager) SetMemoryLimitPercent(p float64) {
	m.memoryLimitPercent.Store(p)
}

func (m *Manager) MemoryLimitPercent() float64 {
	return m.memoryLimitPercent.Load().(float64)
}

// SetCleanupInterval updates the cleanup tick cadence (mutated live by the
// autoscale controller).
func (m *Manager) SetCleanupInterval(d time.Duration) {
	if d < time.Millisecond {
		d = time.Millisecond
	}
	m.cleanupInterval.Store(int64(d))
}

func (m *Manager) CleanupInterval() time.Duration {
	return time.Duration(m.cleanupInterval.Load())
}

// MayAdmit is the admission gate: denies when system memory usage is above
// the configured limit, or when less than 30% of system memory is free.
// Reads never hold any internal lock, and a read failure fails OPEN so the
// pool never deadlocks on a misreading.
func (m *Manager) MayAdmit() bool {
	vm, err := mem.VirtualMemory()
	if err != nil {
		m.log.Warn("lifecycle: system memory read failed, admitting by default", "error", err)
		return true
	}
	limit := m.MemoryLimitPercent()
	if vm.UsedPercent > limit {
		return false
	}
	freePercent := 100 * float64(vm.Available) / float64(vm.Total)
	if freePercent < 30 {
		return false
	}
	return true
}

// ForceCleanup runs a cleanup pass synchronously.
func (m *Manager) ForceCleanup() { m.runCleanup() }

// runCleanup drains the cleanup queue into a local slice; for each id, if
// the task has reached a terminal state, it is removed from the registry.
// Otherwise it is re-enqueued. Whether a caller still holds the task is not
// checked. Errors are swallowed and logged — cleanup
// never raises.
func (m *Manager) runCleanup() {
	m.mu.Lock()
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	const maxPerTick = 512
	if len(pending) > maxPerTick {
		deferred := pending[maxPerTick:]
		pending = pending[:maxPerTick]
		m.mu.Lock()
		m.queue = append(m.queue, deferred...)
		m.mu.Unlock()
	}

	var reclaimed int
	var requeue []task.ID
	for _, id := range pending {
		m.mu.Lock()
		t, ok := m.registry[id]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if t.Status().Terminal() {
			m.mu.Lock()
			delete(m.registry, id)
			delete(m.inQueue, id)
			m.mu.Unlock()
			reclaimed++
		} else {
			requeue = append(requeue, id)
		}
	}

	if len(requeue) > 0 {
		m.mu.Lock()
		m.queue = append(m.queue, requeue...)
		m.mu.Unlock()
	}
	if reclaimed > 0 {
		m.cleaned.Add(uint64(reclaimed))
		if mc := m.mcol.Load(); mc != nil {
			mc.RecordCleaned(reclaimed)
		}
	}

	m.cleanupOperations.Add(1)
	m.lastCleanup.Store(time.Now().UnixNano())
	m.log.Debug("lifecycle: cleanup tick", "reclaimed", reclaimed, "requeued", len(requeue))
}

// Stats returns a live+pending snapshot, mirroring MemoryStats from
// memory_manager.hpp.
func (m *Manager) Stats() MemoryStats {
	m.mu.Lock()
	active := len(m.registry)
	pending := len(m.queue)
	m.mu.Unlock()

	var sysTotal, sysFree, sysUsed uint64
	var sysPercent float64
	if vm, err := mem.VirtualMemory(); err == nil {
		sysTotal, sysFree, sysUsed, sysPercent = vm.Total, vm.Available, vm.Used, vm.UsedPercent
	} else {
		m.log.Warn("lifecycle: system memory stats unavailable", "error", err)
	}

	return MemoryStats{
		ActiveTasks:          active,
		PendingCleanup:       pending,
		TotalCreated:         m.totalCreated.Load(),
		CleanupOperations:    m.cleanupOperations.Load(),
		TimeSinceLastCleanup: time.Since(time.Unix(0, m.lastCleanup.Load())),
		SystemTotalBytes:     sysTotal,
		SystemFreeBytes:      sysFree,
		SystemUsedBytes:      sysUsed,
		SystemUsagePercent:   sysPercent,
		Pool:                 m.pool.Stats(),
	}
}

// CPUPercent estimates current system CPU utilisation, used by the
// sampler. A zero-duration sample is non-blocking but less precise — the
// sampler is expected to call this on its own tick cadence, not in the hot
// dispatch path.
func CPUPercent() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}
