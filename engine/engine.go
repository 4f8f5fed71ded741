package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/armature-dev/armature/hooks"
	"github.com/armature-dev/armature/meta"
	"github.com/armature-dev/armature/store"
)

// System-managed record attributes stamped by the engine.
const (
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// Engine runs entity operations over an immutable registry and a
// document store. Safe for concurrent use.
type Engine struct {
	registry *meta.Registry
	store    store.Store
	log      *zap.Logger
	events   Sink
}

// New wires an engine. A nil logger logs nowhere; a nil sink drops
// events.
func New(registry *meta.Registry, st store.Store, log *zap.Logger, events Sink) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if events == nil {
		events = nopSink{}
	}
	return &Engine{
		registry: registry,
		store:    st,
		log:      log,
		events:   events,
	}
}

// Registry returns the registry the engine serves.
func (en *Engine) Registry() *meta.Registry {
	return en.registry
}

// entity resolves a collection name, failing the operation when it is
// not registered.
func (en *Engine) entity(collection string) (*meta.Entity, *Result) {
	e, err := en.registry.Lookup(collection)
	if err != nil {
		return nil, fail(CodeNotFound, "unknown collection %s", collection)
	}
	return e, nil
}

// gate enforces session and permission requirements ahead of every
// operation.
func (en *Engine) gate(e *meta.Entity, actor hooks.Actor, need meta.Mode) *Result {
	if e.Auth && actor.Anonymous() {
		return fail(CodeNoSession, "authentication required for %s", e.Name)
	}
	if !e.EffectiveMode(actor.Role).Has(need) {
		return fail(CodeNoRights, "operation not permitted on %s", e.Name)
	}
	return nil
}

func (en *Engine) publish(action Action, collection, id string) {
	en.events.Publish(Event{
		Action:     action,
		Collection: collection,
		ID:         id,
		At:         time.Now().UTC(),
	})
}

// hookFailed records an after-hook error. The write already committed,
// so the failure is logged and the operation still succeeds.
func (en *Engine) hookFailed(kind hooks.Kind, collection string, err error) {
	en.log.Warn("after hook failed",
		zap.String("hook", kind.String()),
		zap.String("collection", collection),
		zap.Error(err),
	)
}

// EffectiveMode exposes the permission calculation for the mode
// endpoint: the entity's role mode for the actor, optionally narrowed by
// a caller-declared mode string.
func (en *Engine) EffectiveMode(actor hooks.Actor, collection, declared string) (meta.Mode, *Result) {
	e, res := en.entity(collection)
	if res != nil {
		return meta.ModeNone, res
	}
	if e.Auth && actor.Anonymous() {
		return meta.ModeNone, fail(CodeNoSession, "authentication required for %s", e.Name)
	}
	return meta.Narrow(e.EffectiveMode(actor.Role), declared), nil
}
