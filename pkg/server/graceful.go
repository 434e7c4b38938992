// Package server runs the daemon's operations endpoint (/metrics and the
// health reports) and turns process signals into shutdown and reload.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-controlplane/pkg/health"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
)

// ShutdownTimeout bounds draining in-flight scrapes
const ShutdownTimeout = 10 * time.Second

// ReloadFunc re-applies configuration that can change at runtime
type ReloadFunc func() error

// GracefulServer wraps an HTTP server that drains on shutdown
type GracefulServer struct {
	server       *http.Server
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	reloadFn     ReloadFunc
	reloadMu     sync.RWMutex
	logger       logging.Logger
}

// NewGracefulServer creates a server for handler on addr
func NewGracefulServer(addr string, handler http.Handler, logger logging.Logger) *GracefulServer {
	return &GracefulServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		shutdownCh: make(chan struct{}),
		logger:     logging.OrNop(logger).With(logging.Component("ops-http")),
	}
}

// OpsMux serves /metrics from reg and mounts the health endpoints
func OpsMux(reg *metrics.Registry, checker *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	if checker != nil {
		checker.Mount(mux)
	}
	return mux
}

// Serve listens until ctx ends, then drains for at most ShutdownTimeout
func (gs *GracefulServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return err
	}
	return gs.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener
func (gs *GracefulServer) ServeListener(ctx context.Context, ln net.Listener) error {
	go func() {
		select {
		case <-ctx.Done():
			if err := gs.Shutdown(ShutdownTimeout); err != nil {
				gs.logger.Warn("Operations server shutdown incomplete", logging.Error(err))
			}
		case <-gs.shutdownCh:
		}
	}()

	gs.logger.Info("Operations server listening", logging.String("addr", ln.Addr().String()))
	if err := gs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (gs *GracefulServer) Shutdown(timeout time.Duration) error {
	var err error
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err = gs.server.Shutdown(ctx)
	})
	return err
}

// IsShuttingDown returns true once shutdown has started
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// SetReloadFunc sets what SIGHUP runs
func (gs *GracefulServer) SetReloadFunc(fn ReloadFunc) {
	gs.reloadMu.Lock()
	defer gs.reloadMu.Unlock()
	gs.reloadFn = fn
}

// ReloadConfig runs the reload function, if any
func (gs *GracefulServer) ReloadConfig() error {
	gs.reloadMu.RLock()
	fn := gs.reloadFn
	gs.reloadMu.RUnlock()

	if fn == nil {
		gs.logger.Info("Reload requested but nothing is reloadable")
		return nil
	}
	if err := fn(); err != nil {
		gs.logger.Error("Configuration reload failed", logging.Error(err))
		return err
	}
	gs.logger.Info("Configuration reloaded")
	return nil
}

// HandleSignals cancels on SIGINT or SIGTERM and runs reload on SIGHUP. It
// returns once ctx is done.
func HandleSignals(ctx context.Context, cancel context.CancelFunc, reload ReloadFunc, logger logging.Logger) {
	logger = logging.OrNop(logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				if reload == nil {
					continue
				}
				if err := reload(); err != nil {
					logger.Error("Reload on SIGHUP failed", logging.Error(err))
				}
			default:
				logger.Info("Shutting down", logging.String("signal", sig.String()))
				cancel()
				return
			}
		}
	}
}
