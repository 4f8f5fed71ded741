package engine

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/armature-dev/armature/hooks"
	"github.com/armature-dev/armature/meta"
	"github.com/armature-dev/armature/store"
)

// Delete removes one record after the cascade-or-block check. Records in
// collections referencing this one through a cascade policy are deleted
// through their own delete pipeline; an unpolicied reference with live
// records blocks the whole operation.
func (en *Engine) Delete(ctx context.Context, actor hooks.Actor, collection, id string) *Result {
	e, res := en.entity(collection)
	if res != nil {
		return res
	}
	if res := en.gate(e, actor, meta.ModeDelete); res != nil {
		return res
	}
	return en.deleteRecord(ctx, actor, e, id, make(map[string]bool))
}

func (en *Engine) deleteRecord(ctx context.Context, actor hooks.Actor, e *meta.Entity, id string, visited map[string]bool) *Result {
	key := e.Name + "/" + id
	if visited[key] {
		return ok(nil)
	}
	visited[key] = true

	rec, err := en.store.Get(ctx, e.Name, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(CodeNotFound, "no %s record %s", e.Name, id)
		}
		en.log.Error("delete read failed", zap.String("collection", e.Name), zap.Error(err))
		return fail(CodeError, "delete failed")
	}

	dc := &hooks.DeleteContext{Actor: actor, ID: id, Record: rec}
	if e.Hooks.BeforeDelete != nil {
		if hr := e.Hooks.BeforeDelete(ctx, dc); hr != nil && hr.Code != 0 {
			return fromHook(hr)
		}
	}

	if res := en.checkBlockingRefs(ctx, e, id); res != nil {
		return res
	}
	if res := en.cascadeRefs(ctx, actor, e, id, visited); res != nil {
		return res
	}

	if e.Hooks.Delete != nil {
		if err := e.Hooks.Delete(ctx, dc); err != nil {
			return fromHandlerErr(err)
		}
	} else if err := en.store.Delete(ctx, e.Name, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(CodeNotFound, "no %s record %s", e.Name, id)
		}
		en.log.Error("delete failed", zap.String("collection", e.Name), zap.Error(err))
		return fail(CodeError, "delete failed")
	}

	if e.Hooks.AfterDelete != nil {
		if err := e.Hooks.AfterDelete(ctx, dc); err != nil {
			en.hookFailed(hooks.KindAfterDelete, e.Name, err)
		}
	}
	en.publish(ActionDelete, e.Name, id)

	return ok(map[string]any{"id": id})
}

// checkBlockingRefs fails with the blocking collection names when any
// unpolicied back reference still points at the record. Runs before any
// cascade deletion so a blocked delete leaves everything in place.
func (en *Engine) checkBlockingRefs(ctx context.Context, e *meta.Entity, id string) *Result {
	var blockers []string
	seen := make(map[string]bool)

	for _, br := range e.BackRefs() {
		if br.Field.OnDelete != meta.DeleteBlock || seen[br.Entity.Name] {
			continue
		}
		n, err := en.store.Count(ctx, br.Entity.Name, refFilter(br.Field, id))
		if err != nil {
			en.log.Error("back reference scan failed", zap.String("collection", br.Entity.Name), zap.Error(err))
			return fail(CodeError, "delete failed")
		}
		if n > 0 {
			blockers = append(blockers, br.Entity.Name)
			seen[br.Entity.Name] = true
		}
	}

	if len(blockers) > 0 {
		return fail(CodeHasRefs, "records in %s still reference this %s record", strings.Join(blockers, ", "), e.Name)
	}
	return nil
}

// cascadeRefs deletes every record referencing id through a cascade
// policy, running each through its own delete pipeline so hooks and
// nested policies apply.
func (en *Engine) cascadeRefs(ctx context.Context, actor hooks.Actor, e *meta.Entity, id string, visited map[string]bool) *Result {
	for _, br := range e.BackRefs() {
		if br.Field.OnDelete != meta.DeleteCascade {
			continue
		}
		refs, err := en.store.Find(ctx, br.Entity.Name, store.Query{Filter: refFilter(br.Field, id)})
		if err != nil {
			en.log.Error("cascade scan failed", zap.String("collection", br.Entity.Name), zap.Error(err))
			return fail(CodeError, "delete failed")
		}
		for _, refRec := range refs {
			refID, _ := refRec[store.IDField].(string)
			if refID == "" {
				continue
			}
			res := en.deleteRecord(ctx, actor, br.Entity, refID, visited)
			if !res.OK() && res.Code != CodeNotFound {
				return res
			}
		}
		if len(refs) > 0 {
			en.log.Info("cascade delete",
				zap.String("from", e.Name),
				zap.String("collection", br.Entity.Name),
				zap.Int("records", len(refs)),
			)
		}
	}
	return nil
}

// refFilter matches records whose reference field carries id. Multi
// references match by element.
func refFilter(f *meta.Field, id string) store.Filter {
	return store.NewFilter().Eq(f.Name, id)
}
