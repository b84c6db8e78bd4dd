// Package task defines the per-submission record tracked by the engine.
//
// Tracks identity, status, priority, the submitted closure, and the
// done-channel needed for per-task Join (see internal/executor).
package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Status is a task's position in its lifecycle state machine.
type Status int

const (
	Pending Status = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Kind identifies the class of error surfaced to a submitter.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindAdmissionRefused
	KindUnavailable
	KindTimeout
	KindTaskFailure
	KindCancelled
	KindConfigurationInvalid
)

// Error wraps a Kind with a human-readable message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func NewError(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

var (
	ErrNotFound             = NewError(KindNotFound, "task not found")
	ErrAdmissionRefused     = NewError(KindAdmissionRefused, "admission refused: system memory over limit")
	ErrUnavailable          = NewError(KindUnavailable, "scheduler unavailable: dispatch queue is full")
	ErrConfigurationInvalid = NewError(KindConfigurationInvalid, "configuration invalid")
)

// Closure is the unit of work a submitter hands to the engine. It receives a
// context cancelled at the task's deadline (cooperative cancellation — the
// closure must check ctx itself, it is never forcibly killed) and returns an
// opaque result string or an error.
type Closure func(ctx context.Context) (string, error)

// ID is a monotonically increasing task identifier.
type ID uint64

// Task is the per-submission state record. Timestamps and status are
// written exactly once each by the executor; reads after a terminal status
// are stable.
type Task struct {
	id       ID
	closure  Closure
	priority int32
	timeout  time.Duration

	status atomic.Int32

	mu       sync.Mutex
	result   string
	errMsg   string
	errKind  Kind

	enqueuedAt int64 // unix nano
	startedAt  int64
	completedAt int64
	deadlineAt  int64

	done chan struct{}
	once sync.Once
}

// New creates a Pending task record with the given closure, priority and
// timeout (0 = no timeout). It does not register the task anywhere; callers
// (internal/executor) own placement in the registry.
func New(id ID, fn Closure, priority int, timeout time.Duration) *Task {
	t := &Task{
		id:         id,
		closure:    fn,
		priority:   int32(priority),
		timeout:    timeout,
		enqueuedAt: time.Now().UnixNano(),
		done:       make(chan struct{}),
	}
	t.status.Store(int32(Pending))
	return t
}

func (t *Task) ID() ID             { return t.id }
func (t *Task) Priority() int      { return int(t.priority) }
func (t *Task) Timeout() time.Duration { return t.timeout }
func (t *Task) Closure() Closure   { return t.closure }
func (t *Task) Status() Status     { return Status(t.status.Load()) }
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) EnqueuedAt() time.Time  { return time.Unix(0, t.enqueuedAt) }
func (t *Task) StartedAt() (time.Time, bool) {
	v := atomic.LoadInt64(&t.startedAt)
	return time.Unix(0, v), v != 0
}
func (t *Task) CompletedAt() (time.Time, bool) {
	v := atomic.LoadInt64(&t.completedAt)
	return time.Unix(0, v), v != 0
}

// MarkStarted transitions Pending -> Running. Called only by the executor.
func (t *Task) MarkStarted() bool {
	if !t.status.CompareAndSwap(int32(Pending), int32(Running)) {
		return false
	}
	atomic.StoreInt64(&t.startedAt, time.Now().UnixNano())
	if t.timeout > 0 {
		atomic.StoreInt64(&t.deadlineAt, time.Now().Add(t.timeout).UnixNano())
	}
	return true
}

// MarkCompleted records a successful result and transitions to Completed.
// A no-op if the task is already terminal (e.g. timed out already).
func (t *Task) MarkCompleted(result string) {
	t.finish(Completed, result, KindNone, "")
}

// MarkFailed records an error and transitions to Failed.
func (t *Task) MarkFailed(kind Kind, msg string) {
	t.finish(Failed, "", kind, msg)
}

// TryCancel flips Pending -> Cancelled. Running tasks are never forcibly
// cancelled: this returns false for any non-Pending task.
func (t *Task) TryCancel() bool {
	if !t.status.CompareAndSwap(int32(Pending), int32(Cancelled)) {
		return false
	}
	t.finishUnlocked(KindCancelled, "task cancelled before dispatch")
	return true
}

// MarkTimedOut records a Timeout failure iff the task has not already
// reached a terminal state. The underlying closure, if running, is not
// interrupted — its late result is discarded.
func (t *Task) MarkTimedOut() bool {
	if t.Status().Terminal() {
		return false
	}
	t.finish(Failed, "", KindTimeout, "task exceeded its configured deadline")
	return true
}

func (t *Task) finish(status Status, result string, kind Kind, msg string) {
	if t.Status().Terminal() {
		return
	}
	t.mu.Lock()
	if Status(t.status.Load()).Terminal() {
		t.mu.Unlock()
		return
	}
	t.result = result
	t.errKind = kind
	t.errMsg = msg
	atomic.StoreInt64(&t.completedAt, time.Now().UnixNano())
	t.status.Store(int32(status))
	t.mu.Unlock()
	t.once.Do(func() { close(t.done) })
}

func (t *Task) finishUnlocked(kind Kind, msg string) {
	t.mu.Lock()
	t.errKind = kind
	t.errMsg = msg
	atomic.StoreInt64(&t.completedAt, time.Now().UnixNano())
	t.mu.Unlock()
	t.once.Do(func() { close(t.done) })
}

// Result returns the captured result. Empty until terminal, and empty if the
// task errored.
func (t *Task) Result() string {
	if !t.Status().Terminal() {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

func (t *Task) HasError() bool {
	if !t.Status().Terminal() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errKind != KindNone
}

func (t *Task) ErrorMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg
}

func (t *Task) ErrorKind() Kind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errKind
}

// ExecutionDuration returns how long the task ran, valid once terminal.
func (t *Task) ExecutionDuration() (time.Duration, bool) {
	start := atomic.LoadInt64(&t.startedAt)
	end := atomic.LoadInt64(&t.completedAt)
	if start == 0 || end == 0 {
		return 0, false
	}
	return time.Duration(end - start), true
}

// Deadline returns the absolute deadline for this task, if a timeout was set
// and the task has been dispatched.
func (t *Task) Deadline() (time.Time, bool) {
	v := atomic.LoadInt64(&t.deadlineAt)
	if v == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, v), true
}

var errClosurePanic = errors.New("task closure panicked")

// ErrClosurePanic is surfaced as the error message when a closure panics;
// workers never die from task panics.
func ErrClosurePanic() error { return errClosurePanic }
