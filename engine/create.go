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

// Create runs the create pipeline: defaults, ownership, before hook,
// conversion, required and uniqueness checks, reference resolution, then
// the insert. The after hook runs once the record is committed.
func (en *Engine) Create(ctx context.Context, actor hooks.Actor, collection string, input store.Record) *Result {
	e, res := en.entity(collection)
	if res != nil {
		return res
	}
	if res := en.gate(e, actor, meta.ModeCreate); res != nil {
		return res
	}
	return en.createRecord(ctx, actor, e, input)
}

// createRecord is the gate-free create used by Create, Clone, and
// Import.
func (en *Engine) createRecord(ctx context.Context, actor hooks.Actor, e *meta.Entity, input store.Record) *Result {
	draft := restrictToFields(input, e.CreateFields())
	dropNils(draft)
	applyDefaults(e, draft)
	stampOwner(e, actor, draft)

	cc := &hooks.CreateContext{Actor: actor, Record: draft}
	if e.Hooks.BeforeCreate != nil {
		if hr := e.Hooks.BeforeCreate(ctx, cc); hr != nil && hr.Code != 0 {
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
	if e.Hooks.Create != nil {
		rec, err := e.Hooks.Create(ctx, cc)
		if err != nil {
			return fromHandlerErr(err)
		}
		if rec != nil {
			persisted = rec
		}
	} else if err := en.store.Insert(ctx, e.Name, draft); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return fail(CodeDuplicate, "a record with this id already exists")
		}
		en.log.Error("insert failed", zap.String("collection", e.Name), zap.Error(err))
		return fail(CodeError, "create failed")
	}

	id, _ := persisted[store.IDField].(string)
	if e.Hooks.AfterCreate != nil {
		cc.Record = persisted
		if err := e.Hooks.AfterCreate(ctx, cc); err != nil {
			en.hookFailed(hooks.KindAfterCreate, e.Name, err)
		}
	}
	en.publish(ActionCreate, e.Name, id)

	return ok(en.project(ctx, e, persisted))
}

// dropNils removes explicit nulls from a create draft; clearing only
// means something against an existing record.
func dropNils(rec store.Record) {
	for k, v := range rec {
		if v == nil {
			delete(rec, k)
		}
	}
}
