package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskStartsPending(t *testing.T) {
	tk := New(1, func(ctx context.Context) (string, error) { return "ok", nil }, 0, 0)
	assert.Equal(t, Pending, tk.Status())
	assert.False(t, tk.Status().Terminal())
}

func TestMarkStartedOnlyOnce(t *testing.T) {
	tk := New(1, nil, 0, 0)
	assert.True(t, tk.MarkStarted())
	assert.Equal(t, Running, tk.Status())
	assert.False(t, tk.MarkStarted())
}

func TestMarkCompletedClosesDone(t *testing.T) {
	tk := New(1, nil, 0, 0)
	require.True(t, tk.MarkStarted())
	tk.MarkCompleted("result")

	select {
	case <-tk.Done():
	default:
		t.Fatal("done channel should be closed after completion")
	}
	assert.Equal(t, "result", tk.Result())
	assert.False(t, tk.HasError())
	assert.True(t, tk.Status().Terminal())
}

func TestMarkFailedSetsErrorKindAndMessage(t *testing.T) {
	tk := New(1, nil, 0, 0)
	require.True(t, tk.MarkStarted())
	tk.MarkFailed(KindTaskFailure, "boom")

	assert.True(t, tk.HasError())
	assert.Equal(t, "boom", tk.ErrorMessage())
	assert.Equal(t, KindTaskFailure, tk.ErrorKind())
}

func TestTryCancelOnlyFromPending(t *testing.T) {
	tk := New(1, nil, 0, 0)
	assert.True(t, tk.TryCancel())
	assert.Equal(t, Cancelled, tk.Status())

	tk2 := New(2, nil, 0, 0)
	require.True(t, tk2.MarkStarted())
	assert.False(t, tk2.TryCancel())
	assert.Equal(t, Running, tk2.Status())
}

func TestMarkTimedOutFailsOnlyIfNotTerminal(t *testing.T) {
	tk := New(1, nil, 0, time.Millisecond)
	require.True(t, tk.MarkStarted())
	assert.True(t, tk.MarkTimedOut())
	assert.Equal(t, Failed, tk.Status())
	assert.Equal(t, KindTimeout, tk.ErrorKind())

	// A second timeout signal after the task already completed must be a
	// no-op: it should not downgrade a Completed task back to Failed.
	tk2 := New(2, nil, 0, time.Millisecond)
	require.True(t, tk2.MarkStarted())
	tk2.MarkCompleted("done")
	assert.False(t, tk2.MarkTimedOut())
	assert.Equal(t, Completed, tk2.Status())
}

func TestDeadlineComputedFromTimeout(t *testing.T) {
	tk := New(1, nil, 0, 50*time.Millisecond)
	_, ok := tk.Deadline()
	assert.False(t, ok, "no deadline before the task starts")

	require.True(t, tk.MarkStarted())
	d, ok := tk.Deadline()
	require.True(t, ok)
	assert.True(t, d.After(time.Now()))
}

func TestExecutionDuration(t *testing.T) {
	tk := New(1, nil, 0, 0)
	require.True(t, tk.MarkStarted())
	time.Sleep(time.Millisecond)
	tk.MarkCompleted("x")

	d, ok := tk.ExecutionDuration()
	require.True(t, ok)
	assert.True(t, d > 0)
}

func TestErrorSentinelsWrapAppropriately(t *testing.T) {
	assert.True(t, errors.Is(ErrNotFound, ErrNotFound))
	assert.True(t, errors.Is(ErrAdmissionRefused, ErrAdmissionRefused))
}
