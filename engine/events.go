package engine

import "time"

// Action names the write kind an event describes.
type Action int

const (
	ActionCreate Action = iota
	ActionUpdate
	ActionDelete
)

// String returns the string representation of the action
func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event describes one committed write. Published after the store call
// succeeds, so subscribers never observe aborted operations.
type Event struct {
	Action     Action    `json:"action"`
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
}

// Sink receives committed-write events. Publish runs on the request
// path right after the store commit, so implementations must return
// promptly.
type Sink interface {
	Publish(ev Event)
}

// Sinks fans one event out to several sinks.
type Sinks []Sink

// Publish implements the Sink interface
func (s Sinks) Publish(ev Event) {
	for _, sink := range s {
		sink.Publish(ev)
	}
}

type nopSink struct{}

func (nopSink) Publish(Event) {}
