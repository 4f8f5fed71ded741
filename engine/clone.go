package engine

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/armature-dev/armature/hooks"
	"github.com/armature-dev/armature/meta"
	"github.com/armature-dev/armature/store"
)

// Clone copies a source record into a new one: only clone-eligible
// fields carry over, caller overrides apply on top, and the draft passes
// the same validation as a create.
func (en *Engine) Clone(ctx context.Context, actor hooks.Actor, collection, sourceID string, overrides store.Record) *Result {
	e, res := en.entity(collection)
	if res != nil {
		return res
	}
	if res := en.gate(e, actor, meta.ModeClone); res != nil {
		return res
	}

	source, err := en.store.Get(ctx, e.Name, sourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(CodeNotFound, "no %s record %s", e.Name, sourceID)
		}
		en.log.Error("clone read failed", zap.String("collection", e.Name), zap.Error(err))
		return fail(CodeError, "clone failed")
	}

	draft := make(store.Record, len(e.CloneFields()))
	for _, f := range e.CloneFields() {
		if v, present := source[f.Name]; present && v != nil {
			draft[f.Name] = v
		}
	}
	for k, v := range restrictToFields(overrides, e.CreateFields()) {
		if v == nil {
			delete(draft, k)
			continue
		}
		draft[k] = v
	}

	applyDefaults(e, draft)
	stampOwner(e, actor, draft)

	cc := &hooks.CloneContext{Actor: actor, SourceID: sourceID, Record: draft}
	if e.Hooks.BeforeClone != nil {
		if hr := e.Hooks.BeforeClone(ctx, cc); hr != nil && hr.Code != 0 {
			return fromHook(hr)
		}
		draft = cc.Record
	}

	if res := en.convertRecord(e, draft); res != nil {
		return res
	}
	if res := checkRequired(e, draft); res != nil {
		return res
	}
	if res := en.checkUnique(ctx, e, draft, ""); res != nil {
		return res
	}
	if res := en.resolveForWrite(ctx, e, draft); res != nil {
		return res
	}

	now := time.Now().UTC().Format(time.RFC3339)
	draft[store.IDField] = ulid.Make().String()
	draft[FieldCreatedAt] = now
	draft[FieldUpdatedAt] = now

	persisted := draft
	if e.Hooks.Clone != nil {
		rec, cloneErr := e.Hooks.Clone(ctx, cc)
		if cloneErr != nil {
			return fromHandlerErr(cloneErr)
		}
		if rec != nil {
			persisted = rec
		}
	} else if err := en.store.Insert(ctx, e.Name, draft); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return fail(CodeDuplicate, "a record with this id already exists")
		}
		en.log.Error("clone insert failed", zap.String("collection", e.Name), zap.Error(err))
		return fail(CodeError, "clone failed")
	}

	id, _ := persisted[store.IDField].(string)
	if e.Hooks.AfterClone != nil {
		cc.Record = persisted
		if err := e.Hooks.AfterClone(ctx, cc); err != nil {
			en.hookFailed(hooks.KindAfterClone, e.Name, err)
		}
	}
	en.publish(ActionCreate, e.Name, id)

	return ok(en.project(ctx, e, persisted))
}
