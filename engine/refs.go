package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/armature-dev/armature/hooks"
	"github.com/armature-dev/armature/meta"
	"github.com/armature-dev/armature/store"
)

// resolveForWrite rewrites every reference value in the record to a
// target record id. A value is accepted as-is when it is an existing id;
// otherwise it is looked up against the target's label field. Fails on
// the first unresolvable reference.
func (en *Engine) resolveForWrite(ctx context.Context, e *meta.Entity, rec store.Record) *Result {
	for _, f := range e.RefFields() {
		v, present := rec[f.Name]
		if !present || v == nil {
			continue
		}

		target, err := en.registry.Lookup(f.Ref)
		if err != nil {
			return fail(CodeError, "collection %s is not resolvable", f.Ref)
		}

		if f.IsMultiRef() {
			elems, ok := asStringList(v)
			if !ok {
				return failFields(CodeInvalidParams, invalidParamsMsg([]hooks.FieldError{{Field: f.Name, Message: "must be a list of references"}}),
					[]hooks.FieldError{{Field: f.Name, Message: "must be a list of references"}})
			}
			resolved := make([]string, len(elems))
			for i, elem := range elems {
				id, res := en.resolveRefValue(ctx, f, target, elem)
				if res != nil {
					return res
				}
				resolved[i] = id
			}
			rec[f.Name] = resolved
			continue
		}

		s, ok := v.(string)
		if !ok {
			fe := []hooks.FieldError{{Field: f.Name, Message: "must be a reference value"}}
			return failFields(CodeInvalidParams, invalidParamsMsg(fe), fe)
		}
		id, res := en.resolveRefValue(ctx, f, target, s)
		if res != nil {
			return res
		}
		rec[f.Name] = id
	}
	return nil
}

// resolveRefValue turns one supplied reference value into a target id.
func (en *Engine) resolveRefValue(ctx context.Context, f *meta.Field, target *meta.Entity, value string) (string, *Result) {
	if _, err := en.store.Get(ctx, target.Name, value); err == nil {
		return value, nil
	}

	if target.RefLabel == "" {
		fe := []hooks.FieldError{{Field: f.Name, Message: fmt.Sprintf("no %s record %q", target.Name, value)}}
		return "", failFields(CodeRefNotFound, fmt.Sprintf("%s: no %s record matches %q", f.Name, target.Name, value), fe)
	}

	matches, err := en.store.Find(ctx, target.Name, store.Query{
		Filter: store.NewFilter().Eq(target.RefLabel, value),
		Limit:  2,
	})
	if err != nil {
		en.log.Error("reference lookup failed", zap.String("collection", target.Name), zap.Error(err))
		return "", fail(CodeError, "reference lookup failed")
	}

	switch len(matches) {
	case 0:
		fe := []hooks.FieldError{{Field: f.Name, Message: fmt.Sprintf("no %s record %q", target.Name, value)}}
		return "", failFields(CodeRefNotFound, fmt.Sprintf("%s: no %s record matches %q", f.Name, target.Name, value), fe)
	case 1:
		id, _ := matches[0][store.IDField].(string)
		return id, nil
	default:
		fe := []hooks.FieldError{{Field: f.Name, Message: fmt.Sprintf("%q matches more than one %s record", value, target.Name)}}
		return "", failFields(CodeRefNotUnique, fmt.Sprintf("%s: %q matches more than one %s record", f.Name, value, target.Name), fe)
	}
}

// materializeLinks copies the source attribute of each link field out of
// the referenced record. A broken or absent reference renders empty.
func (en *Engine) materializeLinks(ctx context.Context, e *meta.Entity, rec store.Record) {
	for _, f := range e.LinkFields() {
		refName, srcName, _ := strings.Cut(f.Link, ".")

		rec[f.Name] = ""
		refField, ok := e.Field(refName)
		if !ok {
			continue
		}
		id, _ := rec[refField.Name].(string)
		if id == "" {
			continue
		}
		target, err := en.store.Get(ctx, refField.Ref, id)
		if err != nil {
			continue
		}
		if v, present := target[srcName]; present && v != nil {
			rec[f.Name] = v
		}
	}
}

// displayRefs replaces stored reference ids with the target's label
// value for display. Missing targets render empty; targets without a
// label field keep the id.
func (en *Engine) displayRefs(ctx context.Context, e *meta.Entity, rec store.Record) {
	for _, f := range e.RefFields() {
		v, present := rec[f.Name]
		if !present || v == nil {
			continue
		}
		target, err := en.registry.Lookup(f.Ref)
		if err != nil {
			continue
		}

		if f.IsMultiRef() {
			ids, ok := asStringList(v)
			if !ok {
				continue
			}
			labels := make([]string, len(ids))
			for i, id := range ids {
				labels[i] = en.displayRefValue(ctx, target, id)
			}
			rec[f.Name] = labels
			continue
		}

		id, ok := v.(string)
		if !ok {
			continue
		}
		rec[f.Name] = en.displayRefValue(ctx, target, id)
	}
}

func (en *Engine) displayRefValue(ctx context.Context, target *meta.Entity, id string) string {
	rec, err := en.store.Get(ctx, target.Name, id)
	if err != nil {
		return ""
	}
	if target.RefLabel == "" {
		return id
	}
	if v, present := rec[target.RefLabel]; present && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// project builds the outward form of a stored record: links
// materialized, references displayed, and only the system attributes
// plus property fields retained.
func (en *Engine) project(ctx context.Context, e *meta.Entity, rec store.Record) store.Record {
	out := store.Clone(rec)
	en.materializeLinks(ctx, e, out)
	en.displayRefs(ctx, e, out)

	projected := make(store.Record, len(e.PropertyFields())+3)
	for _, name := range []string{store.IDField, FieldCreatedAt, FieldUpdatedAt} {
		if v, present := out[name]; present {
			projected[name] = v
		}
	}
	for _, f := range e.PropertyFields() {
		if v, present := out[f.Name]; present {
			projected[f.Name] = v
		}
	}
	return projected
}

// RefOption is one entry offered by a reference picker.
type RefOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// RefOptions lists id and label pairs for the target of a reference
// field, optionally narrowed by a case-insensitive label search.
func (en *Engine) RefOptions(ctx context.Context, actor hooks.Actor, collection, fieldName, q string, limit int) *Result {
	e, res := en.entity(collection)
	if res != nil {
		return res
	}
	f, found := e.Field(fieldName)
	if !found || !f.IsRef() {
		return fail(CodeInvalidParams, "%s has no reference field %s", collection, fieldName)
	}
	target, err := en.registry.Lookup(f.Ref)
	if err != nil {
		return fail(CodeError, "collection %s is not resolvable", f.Ref)
	}
	if res := en.gate(target, actor, meta.ModeRead); res != nil {
		return res
	}

	filter := store.NewFilter()
	if q != "" && target.RefLabel != "" {
		filter.Add(target.RefLabel, store.OpContains, q)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	recs, err := en.store.Find(ctx, target.Name, store.Query{Filter: filter, Limit: limit})
	if err != nil {
		en.log.Error("reference option scan failed", zap.String("collection", target.Name), zap.Error(err))
		return fail(CodeError, "reference lookup failed")
	}

	options := make([]RefOption, 0, len(recs))
	for _, rec := range recs {
		id, _ := rec[store.IDField].(string)
		label := id
		if target.RefLabel != "" {
			if v, present := rec[target.RefLabel]; present && v != nil {
				label = fmt.Sprintf("%v", v)
			}
		}
		options = append(options, RefOption{ID: id, Label: label})
	}
	return ok(options)
}

func asStringList(v any) ([]string, bool) {
	switch tv := v.(type) {
	case []string:
		return tv, true
	case []any:
		out := make([]string, len(tv))
		for i, e := range tv {
			s, isStr := e.(string)
			if !isStr {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}
