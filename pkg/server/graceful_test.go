package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/dd0wney/cluso-controlplane/pkg/health"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
)

func startOps(t *testing.T, ctx context.Context) (string, *GracefulServer, chan error) {
	t.Helper()

	reg := metrics.NewRegistry()
	reg.RecordBroadcast("plugins")
	checker := health.NewChecker(time.Second)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	gs := NewGracefulServer(ln.Addr().String(), OpsMux(reg, checker), nil)

	done := make(chan error, 1)
	go func() { done <- gs.ServeListener(ctx, ln) }()
	return "http://" + ln.Addr().String(), gs, done
}

func TestOpsServerServesMetricsAndHealth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base, _, _ := startOps(t, ctx)

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "controlplane_resync_broadcasts_total") {
		t.Errorf("Expected resync counter in /metrics output")
	}

	resp, err = http.Get(base + "/health/live")
	if err != nil {
		t.Fatalf("GET /health/live: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /health/live, got %d", resp.StatusCode)
	}
}

func TestOpsServerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, gs, done := startOps(t, ctx)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	if !gs.IsShuttingDown() {
		t.Error("Expected server to report shutdown")
	}
}

func TestReloadConfig(t *testing.T) {
	gs := NewGracefulServer(":0", http.NotFoundHandler(), nil)
	if err := gs.ReloadConfig(); err != nil {
		t.Errorf("Reload without a function should be a no-op, got %v", err)
	}

	called := false
	gs.SetReloadFunc(func() error { called = true; return nil })
	if err := gs.ReloadConfig(); err != nil {
		t.Errorf("ReloadConfig() error = %v", err)
	}
	if !called {
		t.Error("Reload function was not called")
	}

	boom := errors.New("bad level")
	gs.SetReloadFunc(func() error { return boom })
	if err := gs.ReloadConfig(); !errors.Is(err, boom) {
		t.Errorf("ReloadConfig() error = %v, want %v", err, boom)
	}
}

func TestHandleSignals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		HandleSignals(ctx, cancel, func() error {
			reloaded <- struct{}{}
			return nil
		}, nil)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("Failed to send SIGHUP: %v", err)
	}
	select {
	case <-reloaded:
	case <-time.After(time.Second):
		t.Fatal("SIGHUP did not trigger reload")
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("Failed to send SIGTERM: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SIGTERM did not stop the handler")
	}
	if ctx.Err() == nil {
		t.Error("Expected SIGTERM to cancel the context")
	}
}
