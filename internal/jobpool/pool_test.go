package jobpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeedsFreeList(t *testing.T) {
	p := New(4, 10)
	s := p.Stats()
	assert.Equal(t, 4, s.TotalCreated)
	assert.Equal(t, 4, s.Free)
	assert.Equal(t, 0, s.InUse)
	assert.Equal(t, 10, s.Max)
}

func TestInitialClampedToMax(t *testing.T) {
	p := New(20, 5)
	s := p.Stats()
	assert.Equal(t, 5, s.Free)
	assert.Equal(t, 5, s.Max)
}

func TestAcquireReusesFreeRecordsBeforeAllocating(t *testing.T) {
	p := New(1, 10)
	j1 := p.Acquire()
	require.NotNil(t, j1)
	assert.Equal(t, 1, p.Stats().TotalCreated)

	j2 := p.Acquire()
	require.NotNil(t, j2)
	assert.Equal(t, 2, p.Stats().TotalCreated)
	assert.Equal(t, 2, p.Stats().InUse)
}

func TestReleaseResetsBeforeReadmitting(t *testing.T) {
	p := New(1, 10)
	j := p.Acquire()
	j.WorkerID = 7
	j.TaskID = 42
	j.StartedAt = 123
	j.EndedAt = 456

	p.Release(j)

	reacquired := p.Acquire()
	assert.Equal(t, 0, reacquired.WorkerID)
	assert.Equal(t, uint64(0), uint64(reacquired.TaskID))
	assert.Equal(t, int64(0), reacquired.StartedAt)
	assert.Equal(t, int64(0), reacquired.EndedAt)
}

func TestReleaseDropsExcessBeyondMax(t *testing.T) {
	p := New(0, 1)
	j1 := p.Acquire()
	j2 := p.Acquire()

	p.Release(j1)
	p.Release(j2)

	assert.Equal(t, 1, p.Stats().Free)
}

func TestReleaseNilIsNoop(t *testing.T) {
	p := New(1, 1)
	assert.NotPanics(t, func() { p.Release(nil) })
}

func TestResizeTrimsFreeList(t *testing.T) {
	p := New(5, 10)
	p.Resize(2)
	s := p.Stats()
	assert.Equal(t, 2, s.Max)
	assert.Equal(t, 2, s.Free)
}
