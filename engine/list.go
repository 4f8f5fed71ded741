package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/armature-dev/armature/hooks"
	"github.com/armature-dev/armature/meta"
	"github.com/armature-dev/armature/store"
)

// ListParams carries the caller's list request. Filter terms on fields
// outside the search set are dropped, never errors: the caller cannot
// probe attributes the metadata hides.
type ListParams struct {
	Filter store.Filter
	Sort   []store.Sort
	Limit  int
	Offset int
}

const defaultListLimit = 50

// List reads records through the list pipeline: the list-query hook
// narrows first, caller search terms merge on top, and each returned
// record passes after-read transformation and property projection.
func (en *Engine) List(ctx context.Context, actor hooks.Actor, collection string, params ListParams) *Result {
	e, res := en.entity(collection)
	if res != nil {
		return res
	}
	need := meta.ModeRead
	if len(params.Filter) > 0 {
		need |= meta.ModeSearch
	}
	if res := en.gate(e, actor, need); res != nil {
		return res
	}

	merged, res := en.listFilter(ctx, actor, e, params.Filter)
	if res != nil {
		return res
	}

	q := store.Query{
		Filter: merged,
		Sort:   restrictSort(e, params.Sort),
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}

	recs, err := en.store.Find(ctx, e.Name, q)
	if err != nil {
		en.log.Error("list failed", zap.String("collection", e.Name), zap.Error(err))
		return fail(CodeError, "list failed")
	}
	total, err := en.store.Count(ctx, e.Name, merged)
	if err != nil {
		en.log.Error("count failed", zap.String("collection", e.Name), zap.Error(err))
		return fail(CodeError, "list failed")
	}

	items := make([]store.Record, 0, len(recs))
	for _, rec := range recs {
		items = append(items, en.project(ctx, e, en.afterRead(ctx, actor, e, rec)))
	}

	return ok(map[string]any{
		"items":  items,
		"total":  total,
		"limit":  q.Limit,
		"offset": q.Offset,
	})
}

// listFilter builds the effective read filter: the list-query hook's
// fresh filter merged with the caller's search terms restricted to
// search-eligible fields.
func (en *Engine) listFilter(ctx context.Context, actor hooks.Actor, e *meta.Entity, callerFilter store.Filter) (store.Filter, *Result) {
	var base store.Filter
	if e.Hooks.ListQuery != nil {
		lc := &hooks.ListContext{Actor: actor, Search: callerFilter.Clone()}
		hookFilter, hr := e.Hooks.ListQuery(ctx, lc)
		if hr != nil && hr.Code != 0 {
			return nil, fromHook(hr)
		}
		base = hookFilter
	}
	return base.Merge(restrictFilter(e, callerFilter)), nil
}

// restrictFilter drops caller terms on attributes outside the search
// set. Secure fields are dropped even when searchable, so filters
// cannot be used as an equality oracle on stored secrets.
func restrictFilter(e *meta.Entity, f store.Filter) store.Filter {
	if len(f) == 0 {
		return nil
	}
	searchable := make(map[string]bool, len(e.SearchFields()))
	for _, sf := range e.SearchFields() {
		if sf.Secure {
			continue
		}
		searchable[sf.Name] = true
	}

	out := store.NewFilter()
	for field, terms := range f {
		if !searchable[field] {
			continue
		}
		for _, term := range terms {
			out.Add(field, term.Op, term.Value)
		}
	}
	return out
}

// restrictSort drops sort keys the entity does not declare.
func restrictSort(e *meta.Entity, sorts []store.Sort) []store.Sort {
	out := make([]store.Sort, 0, len(sorts))
	for _, s := range sorts {
		if e.HasField(s.Field) || s.Field == store.IDField ||
			s.Field == FieldCreatedAt || s.Field == FieldUpdatedAt {
			out = append(out, s)
		}
	}
	return out
}

// afterRead applies the per-record read transform. Failures are logged
// and the original record passes through.
func (en *Engine) afterRead(ctx context.Context, actor hooks.Actor, e *meta.Entity, rec store.Record) store.Record {
	if e.Hooks.AfterRead == nil {
		return rec
	}
	transformed, err := e.Hooks.AfterRead(ctx, &hooks.ReadContext{Actor: actor, Record: rec})
	if err != nil {
		en.hookFailed(hooks.KindAfterRead, e.Name, err)
		return rec
	}
	if transformed == nil {
		return rec
	}
	return transformed
}

// Get reads a single record by id.
func (en *Engine) Get(ctx context.Context, actor hooks.Actor, collection, id string) *Result {
	e, res := en.entity(collection)
	if res != nil {
		return res
	}
	if res := en.gate(e, actor, meta.ModeRead); res != nil {
		return res
	}

	rec, err := en.store.Get(ctx, e.Name, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(CodeNotFound, "no %s record %s", e.Name, id)
		}
		en.log.Error("read failed", zap.String("collection", e.Name), zap.Error(err))
		return fail(CodeError, "read failed")
	}

	return ok(en.project(ctx, e, en.afterRead(ctx, actor, e, rec)))
}

// Export returns every record matching the caller's filter as projected
// rows, without paging. The list-query hook still narrows, so an export
// never widens what a list would show.
func (en *Engine) Export(ctx context.Context, actor hooks.Actor, collection string, params ListParams) *Result {
	e, res := en.entity(collection)
	if res != nil {
		return res
	}
	if res := en.gate(e, actor, meta.ModeExport); res != nil {
		return res
	}

	merged, res := en.listFilter(ctx, actor, e, params.Filter)
	if res != nil {
		return res
	}

	recs, err := en.store.Find(ctx, e.Name, store.Query{Filter: merged, Sort: restrictSort(e, params.Sort)})
	if err != nil {
		en.log.Error("export failed", zap.String("collection", e.Name), zap.Error(err))
		return fail(CodeError, "export failed")
	}

	items := make([]store.Record, 0, len(recs))
	for _, rec := range recs {
		items = append(items, en.project(ctx, e, en.afterRead(ctx, actor, e, rec)))
	}

	return ok(map[string]any{
		"collection": e.Name,
		"items":      items,
		"total":      len(items),
	})
}
