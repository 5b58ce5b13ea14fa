package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type blockingService struct {
	started atomic.Bool
	stop    chan struct{}
	once    sync.Once
	order   *[]string
	mu      *sync.Mutex
	name    string
}

func newBlocking(name string, order *[]string, mu *sync.Mutex) *blockingService {
	return &blockingService{stop: make(chan struct{}), order: order, mu: mu, name: name}
}

func (b *blockingService) Start() error {
	b.started.Store(true)
	<-b.stop
	return nil
}

func (b *blockingService) Stop() {
	b.once.Do(func() {
		b.mu.Lock()
		*b.order = append(*b.order, b.name)
		b.mu.Unlock()
		close(b.stop)
	})
}

func runAsync(lc *Lifecycle, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()
	return done
}

func TestLifecycle_StopsInReverseOrderOnCancel(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t))
	var order []string
	var mu sync.Mutex
	first := newBlocking("first", &order, &mu)
	second := newBlocking("second", &order, &mu)
	lc.Add("first", first)
	lc.Add("second", second)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(lc, ctx)

	require.Eventually(t, func() bool {
		return first.started.Load() && second.started.Load()
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not shut down in time")
	}
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestLifecycle_ReturnsFirstServiceError(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t))
	var order []string
	var mu sync.Mutex
	steady := newBlocking("steady", &order, &mu)
	boom := errors.New("boom")
	lc.Add("steady", steady)
	lc.Add("failing", &FuncService{
		StartFn: func() error { return boom },
		StopFn:  func() {},
	})

	select {
	case err := <-runAsync(lc, context.Background()):
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "failing")
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not stop after a failure")
	}
	assert.Equal(t, []string{"steady"}, order)
}

func TestHTTPService_ServesUntilStopped(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	srv := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}),
	}
	svc := HTTPService(srv, time.Second, zaptest.NewLogger(t))

	started := make(chan error, 1)
	go func() { started <- svc.Start() }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body) == "ok"
	}, 5*time.Second, 20*time.Millisecond)

	svc.Stop()
	select {
	case err := <-started:
		assert.NoError(t, err, "a graceful stop is not a failure")
	case <-time.After(5 * time.Second):
		t.Fatal("http service did not return after Stop")
	}
}

func TestFuncService(t *testing.T) {
	var started, stopped bool
	svc := &FuncService{
		StartFn: func() error { started = true; return nil },
		StopFn:  func() { stopped = true },
	}

	assert.NoError(t, svc.Start())
	assert.True(t, started)
	svc.Stop()
	assert.True(t, stopped)
}
