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

// restrictToFields keeps only the attributes the caller may supply for
// the operation. Everything else in the untrusted input is dropped.
func restrictToFields(input store.Record, allowed []*meta.Field) store.Record {
	out := make(store.Record, len(input))
	for _, f := range allowed {
		if v, present := input[f.Name]; present {
			out[f.Name] = v
		}
	}
	return out
}

// applyDefaults fills declared defaults for attributes the draft does
// not carry.
func applyDefaults(e *meta.Entity, draft store.Record) {
	for _, f := range e.Fields {
		if f.Default == nil || f.IsLink() {
			continue
		}
		if _, present := draft[f.Name]; !present {
			draft[f.Name] = f.Default
		}
	}
}

// stampOwner writes the caller id into the ownership field.
func stampOwner(e *meta.Entity, actor hooks.Actor, draft store.Record) {
	if e.UserField == "" || actor.Anonymous() {
		return
	}
	draft[e.UserField] = actor.ID
}

// convertRecord runs each present attribute through its type converter,
// replacing raw values with normalized ones. Nil values are left alone;
// their meaning (clear versus absent) belongs to the caller. Returns an
// invalid-params result listing every failing attribute.
func (en *Engine) convertRecord(e *meta.Entity, rec store.Record) *Result {
	types := en.registry.Types()

	var fieldErrs []hooks.FieldError
	for _, f := range e.Fields {
		if f.IsLink() {
			continue
		}
		v, present := rec[f.Name]
		if !present || v == nil {
			continue
		}
		converted, err := types.Convert(f.Type, v)
		if err != nil {
			fieldErrs = append(fieldErrs, hooks.FieldError{Field: f.Name, Message: err.Error()})
			continue
		}
		rec[f.Name] = converted
	}

	if len(fieldErrs) > 0 {
		return failFields(CodeInvalidParams, invalidParamsMsg(fieldErrs), fieldErrs)
	}
	return nil
}

func invalidParamsMsg(fieldErrs []hooks.FieldError) string {
	names := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		names[i] = fe.Field
	}
	return fmt.Sprintf("invalid value for %s", strings.Join(names, ", "))
}

// checkRequired verifies every required creatable attribute carries a
// value. Missing ones produce a no-params result naming each field.
func checkRequired(e *meta.Entity, rec store.Record) *Result {
	var missing []hooks.FieldError
	for _, f := range e.CreateFields() {
		if !f.Required {
			continue
		}
		v, present := rec[f.Name]
		if !present || v == nil || v == "" {
			missing = append(missing, hooks.FieldError{Field: f.Name, Message: "required"})
		}
	}
	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, fe := range missing {
			names[i] = fe.Field
		}
		return failFields(CodeNoParams, fmt.Sprintf("missing required field %s", strings.Join(names, ", ")), missing)
	}
	return nil
}

// checkClearedRequired rejects a patch that sets a required attribute to
// null.
func checkClearedRequired(e *meta.Entity, patch store.Record) *Result {
	var cleared []hooks.FieldError
	for _, f := range e.UpdateFields() {
		if !f.Required {
			continue
		}
		if v, present := patch[f.Name]; present && (v == nil || v == "") {
			cleared = append(cleared, hooks.FieldError{Field: f.Name, Message: "required"})
		}
	}
	if len(cleared) > 0 {
		names := make([]string, len(cleared))
		for i, fe := range cleared {
			names[i] = fe.Field
		}
		return failFields(CodeNoParams, fmt.Sprintf("missing required field %s", strings.Join(names, ", ")), cleared)
	}
	return nil
}

// checkUnique enforces the collection's uniqueness key. selfID excludes
// the record being updated from the collision scan.
func (en *Engine) checkUnique(ctx context.Context, e *meta.Entity, rec store.Record, selfID string) *Result {
	if len(e.Keys) == 0 {
		return nil
	}

	filter := store.NewFilter()
	for _, key := range e.Keys {
		v, present := rec[key]
		if !present {
			// Partial key values cannot collide deterministically.
			return nil
		}
		filter.Eq(key, v)
	}

	matches, err := en.store.Find(ctx, e.Name, store.Query{Filter: filter, Limit: 2})
	if err != nil {
		en.log.Error("uniqueness scan failed", zap.String("collection", e.Name), zap.Error(err))
		return fail(CodeError, "uniqueness check failed")
	}
	for _, m := range matches {
		if id, _ := m[store.IDField].(string); id != selfID {
			return fail(CodeDuplicate, "a record with the same %s already exists", strings.Join(e.Keys, ", "))
		}
	}
	return nil
}
