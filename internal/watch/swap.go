package watch

import (
	"net/http"
	"sync/atomic"
)

// SwapHandler is an http.Handler whose inner handler can be replaced
// atomically. Reloads build a complete new handler stack and swap it in;
// a failed rebuild simply never swaps, so the previous stack keeps
// serving.
type SwapHandler struct {
	current atomic.Pointer[http.Handler]
}

// NewSwapHandler creates a swap handler serving initial.
func NewSwapHandler(initial http.Handler) *SwapHandler {
	s := &SwapHandler{}
	s.Swap(initial)
	return s
}

// Swap replaces the serving handler. In-flight requests finish on the
// handler they started with.
func (s *SwapHandler) Swap(h http.Handler) {
	if h == nil {
		h = http.NotFoundHandler()
	}
	s.current.Store(&h)
}

// ServeHTTP dispatches to the current handler.
func (s *SwapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.current.Load()).ServeHTTP(w, r)
}
