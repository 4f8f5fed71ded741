package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/armature-dev/armature/hooks"
	"github.com/armature-dev/armature/meta"
	"github.com/armature-dev/armature/store"
)

// Update applies a partial patch to one record. Attributes absent from
// the patch stay untouched; an explicit null clears the attribute.
func (en *Engine) Update(ctx context.Context, actor hooks.Actor, collection, id string, patch store.Record) *Result {
	e, res := en.entity(collection)
	if res != nil {
		return res
	}
	if res := en.gate(e, actor, meta.ModeUpdate); res != nil {
		return res
	}
	return en.updateRecord(ctx, actor, e, id, patch)
}

// updateRecord is the gate-free update shared with BatchUpdate.
func (en *Engine) updateRecord(ctx context.Context, actor hooks.Actor, e *meta.Entity, id string, patch store.Record) *Result {
	changes := restrictToFields(patch, e.UpdateFields())

	uc := &hooks.UpdateContext{Actor: actor, ID: id, Patch: changes}
	if e.Hooks.BeforeUpdate != nil {
		if hr := e.Hooks.BeforeUpdate(ctx, uc); hr != nil && hr.Code != 0 {
			return fromHook(hr)
		}
		changes = uc.Patch
	}

	if res := en.convertRecord(e, changes); res != nil {
		return res
	}
	if res := checkClearedRequired(e, changes); res != nil {
		return res
	}
	if res := en.checkUniqueForUpdate(ctx, e, id, changes); res != nil {
		return res
	}
	if res := en.resolveForWrite(ctx, e, changes); res != nil {
		return res
	}

	changes[FieldUpdatedAt] = time.Now().UTC().Format(time.RFC3339)

	var updated store.Record
	if e.Hooks.Update != nil {
		rec, err := e.Hooks.Update(ctx, uc)
		if err != nil {
			return fromHandlerErr(err)
		}
		updated = rec
	} else {
		rec, err := en.store.Update(ctx, e.Name, id, changes)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fail(CodeNotFound, "no %s record %s", e.Name, id)
			}
			en.log.Error("update failed", zap.String("collection", e.Name), zap.Error(err))
			return fail(CodeError, "update failed")
		}
		updated = rec
	}

	if e.Hooks.AfterUpdate != nil {
		uc.Record = updated
		if err := e.Hooks.AfterUpdate(ctx, uc); err != nil {
			en.hookFailed(hooks.KindAfterUpdate, e.Name, err)
		}
	}
	en.publish(ActionUpdate, e.Name, id)

	return ok(en.project(ctx, e, updated))
}

// checkUniqueForUpdate re-runs the uniqueness key scan when the patch
// touches a key field. The candidate values are the record's current
// ones overlaid with the patch.
func (en *Engine) checkUniqueForUpdate(ctx context.Context, e *meta.Entity, id string, changes store.Record) *Result {
	if len(e.Keys) == 0 {
		return nil
	}
	touched := false
	for _, key := range e.Keys {
		if _, present := changes[key]; present {
			touched = true
			break
		}
	}
	if !touched {
		return nil
	}

	current, err := en.store.Get(ctx, e.Name, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(CodeNotFound, "no %s record %s", e.Name, id)
		}
		en.log.Error("uniqueness scan failed", zap.String("collection", e.Name), zap.Error(err))
		return fail(CodeError, "uniqueness check failed")
	}
	candidate := store.Clone(current)
	for k, v := range changes {
		if v == nil {
			delete(candidate, k)
			continue
		}
		candidate[k] = v
	}
	return en.checkUnique(ctx, e, candidate, id)
}

// BatchUpdate applies one patch to many records, reporting a per-record
// outcome. The envelope code stays OK; individual failures live in the
// item results.
func (en *Engine) BatchUpdate(ctx context.Context, actor hooks.Actor, collection string, ids []string, patch store.Record) *Result {
	e, res := en.entity(collection)
	if res != nil {
		return res
	}
	if res := en.gate(e, actor, meta.ModeBatch); res != nil {
		return res
	}
	if len(ids) == 0 {
		return fail(CodeNoParams, "no record ids given")
	}

	type itemResult struct {
		ID   string `json:"id"`
		Code Code   `json:"code"`
		Err  string `json:"err,omitempty"`
	}

	items := make([]itemResult, 0, len(ids))
	succeeded := 0
	for _, id := range ids {
		r := en.updateRecord(ctx, actor, e, id, store.Clone(patch))
		item := itemResult{ID: id, Code: r.Code, Err: r.Err}
		if r.OK() {
			succeeded++
		}
		items = append(items, item)
	}

	return ok(map[string]any{
		"updated": succeeded,
		"items":   items,
	})
}
