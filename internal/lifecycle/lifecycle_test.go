package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotasklets/tasklets/internal/jobpool"
	"github.com/gotasklets/tasklets/internal/task"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	pool := jobpool.New(1, 16)
	m := New(nil, pool, 95, time.Millisecond)
	return m
}

func TestRegisterCountsCreatedAndTracksLookup(t *testing.T) {
	m := newManager(t)
	tk := task.New(1, nil, 0, 0)
	m.Register(tk)

	found, ok := m.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, tk, found)

	acc := m.AccountingSnapshot()
	assert.Equal(t, uint64(1), acc.Created)
	assert.Equal(t, uint64(1), acc.Active)
}

func TestUnregisterIncrementsCleaned(t *testing.T) {
	m := newManager(t)
	tk := task.New(1, nil, 0, 0)
	m.Register(tk)
	m.Unregister(1)

	_, ok := m.Lookup(1)
	assert.False(t, ok)

	acc := m.AccountingSnapshot()
	assert.Equal(t, uint64(1), acc.Cleaned)
}

func TestUnregisterUnknownIDDoesNotIncrementCleaned(t *testing.T) {
	m := newManager(t)
	m.Unregister(999)
	assert.Equal(t, uint64(0), m.AccountingSnapshot().Cleaned)
}

func TestAccountingIdentityHoldsAcrossCleanup(t *testing.T) {
	m := newManager(t)

	tk1 := task.New(1, nil, 0, 0)
	tk2 := task.New(2, nil, 0, 0)
	m.Register(tk1)
	m.Register(tk2)

	require.True(t, tk1.MarkStarted())
	tk1.MarkCompleted("done")
	m.MarkForCleanup(1)
	m.ForceCleanup()

	acc := m.AccountingSnapshot()
	assert.Equal(t, acc.Created, acc.Active+acc.Completed+acc.Failed+acc.Cancelled+acc.Cleaned)
}

func TestMarkForCleanupDedupes(t *testing.T) {
	m := newManager(t)
	tk := task.New(1, nil, 0, 0)
	m.Register(tk)

	m.MarkForCleanup(1)
	m.MarkForCleanup(1)

	m.mu.Lock()
	n := len(m.queue)
	m.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestForceCleanupRequeuesNonTerminalTasks(t *testing.T) {
	m := newManager(t)
	tk := task.New(1, nil, 0, 0)
	m.Register(tk)
	m.MarkForCleanup(1)

	m.ForceCleanup()

	_, ok := m.Lookup(1)
	assert.True(t, ok, "a still-pending task must survive a cleanup tick")
}

func TestSnapshotReturnsAllRegistered(t *testing.T) {
	m := newManager(t)
	m.Register(task.New(1, nil, 0, 0))
	m.Register(task.New(2, nil, 0, 0))

	all := m.Snapshot()
	assert.Len(t, all, 2)
}

func TestSetMemoryLimitAndCleanupIntervalRoundTrip(t *testing.T) {
	m := newManager(t)
	m.SetMemoryLimitPercent(50)
	assert.Equal(t, 50.0, m.MemoryLimitPercent())

	m.SetCleanupInterval(time.Second)
	assert.Equal(t, time.Second, m.CleanupInterval())

	m.SetCleanupInterval(0)
	assert.Equal(t, time.Millisecond, m.CleanupInterval())
}

func TestStartStopCleanupLoop(t *testing.T) {
	m := newManager(t)
	m.Start()
	tk := task.New(1, nil, 0, 0)
	m.Register(tk)
	require.True(t, tk.MarkStarted())
	tk.MarkCompleted("x")
	m.MarkForCleanup(1)

	assert.Eventually(t, func() bool {
		_, ok := m.Lookup(1)
		return !ok
	}, time.Second, 5*time.Millisecond)

	m.Stop()
}

func TestAcquireReleaseJobPassthrough(t *testing.T) {
	m := newManager(t)
	j := m.AcquireJob()
	require.NotNil(t, j)
	m.ReleaseJob(j)
}
