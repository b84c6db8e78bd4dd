package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	require.NotNil(t, c)
	assert.NotNil(t, c.created)
	assert.NotNil(t, c.completed)
	assert.NotNil(t, c.failed)
	assert.NotNil(t, c.cancelled)
	assert.NotNil(t, c.cleaned)
	assert.NotNil(t, c.execution)
	assert.NotNil(t, c.active)
	assert.NotNil(t, c.workers)
	assert.NotNil(t, c.queueLength)
	assert.NotNil(t, c.memoryPercent)
}

func TestRecordMethodsDoNotPanic(t *testing.T) {
	c := NewCollector()

	assert.NotPanics(t, func() {
		c.RecordCreated()
		c.RecordCompleted(0.01)
		c.RecordFailed(0.02)
		c.RecordCancelled()
		c.RecordCleaned(3)
		c.RecordCleaned(0)
		c.UpdateGauges(2, 4, 0, 55.5)
	})
}

// TestCollectorIsolation verifies two collectors in the same process don't
// collide on prometheus.DefaultRegisterer, since each owns a private registry.
func TestCollectorIsolation(t *testing.T) {
	c1 := NewCollector()
	c2 := NewCollector()
	require.NotNil(t, c1)
	require.NotNil(t, c2)

	assert.NotPanics(t, func() {
		c1.RecordCreated()
		c2.RecordCreated()
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordCreated()
	c.RecordCompleted(0.05)
	c.UpdateGauges(1, 4, 2, 12.5)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartServerShutsDownOnContextCancel(t *testing.T) {
	c := NewCollector()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- c.StartServer(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StartServer did not return after context cancellation")
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	c := NewCollector()
	done := make(chan struct{}, 100)

	for i := 0; i < 100; i++ {
		go func() {
			c.RecordCreated()
			c.RecordCompleted(0.1)
			c.UpdateGauges(10, 4, 5, 40)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
}
