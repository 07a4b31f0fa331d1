package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// Compile-time interface checks.
var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*DetectorService)(nil)
	_ HTTPServer     = (*http.Server)(nil)
)

type mockHTTPServer struct {
	listenErr error
	started   chan struct{}
	stopCh    chan struct{}
	shutdowns atomic.Int32
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{started: make(chan struct{}, 1), stopCh: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	if m.shutdowns.Add(1) == 1 {
		close(m.stopCh)
	}
	return nil
}

type mockDetector struct {
	starts    atomic.Int32
	shutdowns atomic.Int32
	started   chan struct{}
}

func newMockDetector() *mockDetector {
	return &mockDetector{started: make(chan struct{}, 1)}
}

func (m *mockDetector) Start() {
	m.starts.Add(1)
	select {
	case m.started <- struct{}{}:
	default:
	}
}

func (m *mockDetector) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	return nil
}

func wait(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	srv := newMockHTTPServer()
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	wait(t, srv.started, "ListenAndServe")
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if srv.shutdowns.Load() != 1 {
		t.Errorf("Shutdown called %d times, want 1", srv.shutdowns.Load())
	}
}

func TestHTTPServerService_ListenError(t *testing.T) {
	srv := newMockHTTPServer()
	srv.listenErr = errors.New("address already in use")
	svc := NewHTTPServerService(srv, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, srv.listenErr) {
		t.Errorf("Serve() = %v, want wrapped listen error", err)
	}
	if svc.String() != "http-server" {
		t.Errorf("String() = %q", svc.String())
	}
}

func TestDetectorService_StartsAndStops(t *testing.T) {
	d := newMockDetector()
	svc := NewDetectorService(d, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	wait(t, d.started, "detector start")
	if d.shutdowns.Load() != 0 {
		t.Error("Detector must not be shut down while serving")
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}
	if d.starts.Load() != 1 || d.shutdowns.Load() != 1 {
		t.Errorf("starts=%d shutdowns=%d, want 1/1", d.starts.Load(), d.shutdowns.Load())
	}
}

func TestTree_ServesAndStops(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tree := NewTree(logger, TreeConfig{ShutdownTimeout: 2 * time.Second})

	d := newMockDetector()
	srv := newMockHTTPServer()
	tree.AddEmotionService(NewDetectorService(d, time.Second))
	tree.AddAPIService(NewHTTPServerService(srv, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	wait(t, d.started, "detector start")
	wait(t, srv.started, "http start")
	cancel()

	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
	if d.shutdowns.Load() != 1 || srv.shutdowns.Load() != 1 {
		t.Errorf("Expected both services to shut down, detector=%d http=%d", d.shutdowns.Load(), srv.shutdowns.Load())
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) != 0 {
		t.Errorf("Unstopped services: %v", report)
	}
}
