package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownHook runs during graceful shutdown, before the HTTP server
// stops. Hooks run in registration order; a failing hook is logged and
// the remaining hooks still run.
type ShutdownHook func(ctx context.Context) error

// ShutdownConfig holds graceful shutdown configuration.
type ShutdownConfig struct {
	// Timeout bounds the whole shutdown, hooks included.
	Timeout time.Duration

	// Signals to listen for. Defaults to SIGINT and SIGTERM.
	Signals []os.Signal

	Log *zap.Logger
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() *ShutdownConfig {
	return &ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// GracefulShutdown runs a server until a signal arrives, then drains it
// with cleanup hooks.
type GracefulShutdown struct {
	server        *Server
	timeout       time.Duration
	signals       []os.Signal
	log           *zap.Logger
	mu            sync.Mutex
	hooks         []ShutdownHook
	shutdownOnce  sync.Once
	shutdownChan  chan struct{}
	shutdownError error
}

// NewGracefulShutdown wraps a server with shutdown handling.
func NewGracefulShutdown(server *Server, config *ShutdownConfig) *GracefulShutdown {
	if config == nil {
		config = DefaultShutdownConfig()
	}
	log := config.Log
	if log == nil {
		log = zap.NewNop()
	}
	signals := config.Signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	return &GracefulShutdown{
		server:       server,
		timeout:      config.Timeout,
		signals:      signals,
		log:          log,
		shutdownChan: make(chan struct{}),
	}
}

// RegisterHook adds a cleanup hook. Hooks registered after shutdown has
// begun never run.
func (gs *GracefulShutdown) RegisterHook(hook ShutdownHook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.hooks = append(gs.hooks, hook)
}

// Start serves until a shutdown signal or a listener error, then drains.
func (gs *GracefulShutdown) Start() error {
	errChan := make(chan error, 1)
	go func() {
		gs.log.Info("server listening", zap.String("addr", gs.server.Addr()))
		if err := gs.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server failed: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, gs.signals...)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		gs.log.Info("shutdown signal received", zap.String("signal", sig.String()))
		return gs.Shutdown()
	case err := <-errChan:
		return err
	}
}

// Shutdown drains the server once: hooks first, then the HTTP server,
// all bounded by the configured timeout. Concurrent callers share the
// single shutdown and its error.
func (gs *GracefulShutdown) Shutdown() error {
	gs.shutdownOnce.Do(func() {
		gs.log.Info("shutting down", zap.Duration("timeout", gs.timeout))

		ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
		defer cancel()

		gs.mu.Lock()
		hooks := make([]ShutdownHook, len(gs.hooks))
		copy(hooks, gs.hooks)
		gs.mu.Unlock()

		for i, hook := range hooks {
			if err := hook(ctx); err != nil {
				gs.log.Warn("shutdown hook failed", zap.Int("hook", i), zap.Error(err))
			}
		}

		if err := gs.server.Shutdown(ctx); err != nil {
			gs.shutdownError = fmt.Errorf("server shutdown: %w", err)
			gs.log.Error("server shutdown failed", zap.Error(err))
		} else {
			gs.log.Info("server stopped")
		}

		close(gs.shutdownChan)
	})

	<-gs.shutdownChan
	return gs.shutdownError
}

// Wait blocks until shutdown completes.
func (gs *GracefulShutdown) Wait() error {
	<-gs.shutdownChan
	return gs.shutdownError
}
