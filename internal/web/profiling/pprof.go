// Package profiling exposes pprof and runtime statistics endpoints on a
// dedicated listener.
//
// The endpoints reveal goroutine stacks and memory contents, so the
// server binds its own address and belongs on loopback or an otherwise
// firewalled interface, never on the public API port.
package profiling

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Config holds profiling server settings.
type Config struct {
	// Address is the listen address, e.g. "localhost:6060".
	Address string

	// BlockRate enables block profiling when positive. The value is
	// passed to runtime.SetBlockProfileRate.
	BlockRate int

	// MutexFraction enables mutex profiling when positive. The value
	// is passed to runtime.SetMutexProfileFraction.
	MutexFraction int
}

// DefaultConfig returns a loopback-only configuration with block and
// mutex sampling off.
func DefaultConfig() *Config {
	return &Config{Address: "localhost:6060"}
}

// Handler returns the profiling routes: the standard pprof pages under
// /debug/pprof and runtime counters at /debug/stats.
func Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/debug/pprof", func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)
		for _, profile := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			r.Handle("/"+profile, pprof.Handler(profile))
		}
	})
	r.Get("/debug/stats", StatsHandler())
	return r
}

// Stats reports process-level runtime counters.
type Stats struct {
	Goroutines int         `json:"goroutines"`
	Memory     MemoryStats `json:"memory"`
	CPU        CPUStats    `json:"cpu"`
}

// MemoryStats is a condensed view of runtime.MemStats.
type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

// CPUStats reports processor counters.
type CPUStats struct {
	NumCPU     int   `json:"num_cpu"`
	NumCgoCall int64 `json:"num_cgo_call"`
}

// ReadStats samples the current runtime counters.
func ReadStats() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Stats{
		Goroutines: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
		CPU: CPUStats{
			NumCPU:     runtime.NumCPU(),
			NumCgoCall: runtime.NumCgoCall(),
		},
	}
}

// StatsHandler serves ReadStats as JSON.
func StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ReadStats())
	}
}

// Server serves the profiling handler on its own listener.
type Server struct {
	httpServer *http.Server
	config     *Config
	log        *zap.Logger
	listener   net.Listener
}

// NewServer creates a profiling server for the configuration. A nil
// config uses DefaultConfig.
func NewServer(config *Config, log *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	// No write timeout: profile and trace requests stream for their
	// whole sampling window.
	return &Server{
		httpServer: &http.Server{
			Addr:              config.Address,
			Handler:           Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		config: config,
		log:    log,
	}
}

// Start applies the configured sampling rates and serves until
// Shutdown. The listener is bound before Serve takes over, so Addr is
// valid once the serving goroutine has entered Start.
func (s *Server) Start() error {
	if s.config.BlockRate > 0 {
		runtime.SetBlockProfileRate(s.config.BlockRate)
	}
	if s.config.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(s.config.MutexFraction)
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener

	s.log.Info("profiling server listening", zap.String("address", listener.Addr().String()))
	return s.httpServer.Serve(listener)
}

// Shutdown stops accepting new connections and waits for in-flight
// requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound network address, or the configured one before
// Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}
