// Package server wraps net/http with production defaults and graceful
// shutdown: hardened timeouts, optional TLS, ordered cleanup hooks, and
// signal handling.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server is an http.Server with a captured listener so callers binding
// port zero can learn the assigned address.
type Server struct {
	httpServer *http.Server
	config     *Config
	listener   net.Listener
}

// Config holds server configuration.
type Config struct {
	// Address is the listen address, e.g. ":8080".
	Address string

	// Handler serves every request.
	Handler http.Handler

	TLS *TLSConfig

	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration

	MaxHeaderBytes int

	EnableHTTP2 bool
}

// TLSConfig holds TLS settings. CertFile and KeyFile are ignored when a
// custom Config carries certificates already.
type TLSConfig struct {
	CertFile string
	KeyFile  string

	// MinVersion defaults to TLS 1.2.
	MinVersion uint16

	Config *tls.Config
}

// DefaultConfig returns a production-ready configuration for the given
// handler.
func DefaultConfig(handler http.Handler) *Config {
	return &Config{
		Address:           ":8080",
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
		EnableHTTP2:       true,
	}
}

// New creates a server from the configuration.
func New(config *Config) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("server config cannot be nil")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	httpServer := &http.Server{
		Addr:              config.Address,
		Handler:           config.Handler,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		MaxHeaderBytes:    config.MaxHeaderBytes,
	}

	if config.TLS != nil {
		httpServer.TLSConfig = buildTLSConfig(config.TLS, config.EnableHTTP2)
	}

	return &Server{
		httpServer: httpServer,
		config:     config,
	}, nil
}

// Start listens on the configured address and serves until Shutdown or
// Close. The listener is bound before Serve returns control, so Addr is
// valid as soon as Start has been entered by the serving goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener

	if s.config.TLS != nil {
		if s.httpServer.TLSConfig.Certificates == nil && s.config.TLS.CertFile != "" {
			return s.httpServer.ServeTLS(listener, s.config.TLS.CertFile, s.config.TLS.KeyFile)
		}
		return s.httpServer.Serve(tls.NewListener(listener, s.httpServer.TLSConfig))
	}
	return s.httpServer.Serve(listener)
}

// Shutdown stops accepting new connections and waits for in-flight
// requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Close drops all connections immediately.
func (s *Server) Close() error {
	return s.httpServer.Close()
}

// Addr returns the bound network address, or the configured one before
// Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

func buildTLSConfig(tlsConfig *TLSConfig, enableHTTP2 bool) *tls.Config {
	if tlsConfig.Config != nil {
		config := tlsConfig.Config.Clone()
		if enableHTTP2 {
			config.NextProtos = []string{"h2", "http/1.1"}
		}
		return config
	}

	config := &tls.Config{MinVersion: tlsConfig.MinVersion}
	if config.MinVersion == 0 {
		config.MinVersion = tls.VersionTLS12
	}
	if enableHTTP2 {
		config.NextProtos = []string{"h2", "http/1.1"}
	}
	return config
}
