package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockService struct {
	started atomic.Bool
	stopped atomic.Bool
	startFn func() error
	stopCh  chan struct{}
	once    sync.Once
}

func newMockService() *mockService {
	return &mockService{stopCh: make(chan struct{})}
}

func (m *mockService) Start() error {
	m.started.Store(true)
	if m.startFn != nil {
		return m.startFn()
	}
	<-m.stopCh
	return nil
}

func (m *mockService) Stop() {
	m.stopped.Store(true)
	m.once.Do(func() { close(m.stopCh) })
}

func waitStarted(t *testing.T, svcs ...*mockService) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, s := range svcs {
			if !s.started.Load() {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "services did not start in time")
}

func TestLifecycleStartsAndStopsServices(t *testing.T) {
	logger := zaptest.NewLogger(t)
	lc := NewLifecycle(logger)

	svc1 := newMockService()
	svc2 := newMockService()

	lc.Add("svc1", svc1)
	lc.Add("svc2", svc2)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- lc.Run(ctx)
	}()

	waitStarted(t, svc1, svc2)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not shut down in time")
	}

	assert.True(t, svc1.stopped.Load())
	assert.True(t, svc2.stopped.Load())
}

func TestLifecycleStopsInReverseOrder(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t))

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		stop := make(chan struct{})
		lc.Add(name, &FuncService{
			StartFn: func() error { <-stop; return nil },
			StopFn: func() {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				close(stop)
			},
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, lc.Run(ctx))
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestLifecycleReturnsServiceError(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t))

	boom := errors.New("bind failed")
	failing := newMockService()
	failing.startFn = func() error { return boom }
	healthy := newMockService()

	lc.Add("healthy", healthy)
	lc.Add("failing", failing)

	done := make(chan error, 1)
	go func() { done <- lc.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "service failing")
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not stop after a service failure")
	}
	assert.True(t, healthy.stopped.Load())
}

func TestFuncService(t *testing.T) {
	started := false
	stopped := false

	svc := &FuncService{
		StartFn: func() error {
			started = true
			return nil
		},
		StopFn: func() {
			stopped = true
		},
	}

	err := svc.Start()
	assert.NoError(t, err)
	assert.True(t, started)

	svc.Stop()
	assert.True(t, stopped)
}
