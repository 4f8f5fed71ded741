// Package feed streams committed record changes to websocket
// subscribers. The router mounts it at /ws; a client can narrow its
// subscription to specific collections via the query string.
package feed

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/armature-dev/armature/engine"
)

// Hub fans committed-write events out to connected clients.
type Hub struct {
	log *zap.Logger

	clients   map[*client]bool
	clientsMu sync.RWMutex

	register   chan *client
	unregister chan *client
	events     chan engine.Event

	done chan struct{}
	wg   sync.WaitGroup
}

// message is the envelope every frame carries.
type message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// change is the payload of a committed-write frame.
type change struct {
	Action     string    `json:"action"`
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
}

// NewHub creates a hub. Call Run before mounting its handler.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:        log,
		clients:    make(map[*client]bool),
		register:   make(chan *client, 64),
		unregister: make(chan *client, 64),
		events:     make(chan engine.Event, 1024),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case c := <-h.register:
			h.clientsMu.Lock()
			h.clients[c] = true
			h.clientsMu.Unlock()
			h.log.Debug("feed client connected",
				zap.String("client_id", c.id),
				zap.Int("total", h.ClientCount()))

		case c := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.clientsMu.Unlock()
			h.log.Debug("feed client disconnected",
				zap.String("client_id", c.id),
				zap.Int("total", h.ClientCount()))

		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

// Publish implements engine.Sink. Events are buffered; when the buffer
// is full the event is dropped rather than stalling the write path.
func (h *Hub) Publish(ev engine.Event) {
	select {
	case h.events <- ev:
	case <-h.done:
	default:
		h.log.Warn("feed buffer full, event dropped",
			zap.String("collection", ev.Collection))
	}
}

func (h *Hub) broadcast(ev engine.Event) {
	data, err := json.Marshal(message{
		Type: "change",
		Data: change{
			Action:     ev.Action.String(),
			Collection: ev.Collection,
			ID:         ev.ID,
			At:         ev.At,
		},
	})
	if err != nil {
		h.log.Error("marshaling feed event", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for c := range h.clients {
		if !c.wants(ev.Collection) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.Warn("feed client lagging, frame dropped",
				zap.String("client_id", c.id))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for c := range h.clients {
		close(c.send)
		c.conn.Close()
	}
	h.clients = make(map[*client]bool)
}

// Shutdown stops the event loop and disconnects every client.
func (h *Hub) Shutdown() {
	close(h.done)
	h.wg.Wait()
}
