package engine

import (
	"context"

	"github.com/armature-dev/armature/hooks"
	"github.com/armature-dev/armature/meta"
	"github.com/armature-dev/armature/store"
)

// Import creates many records from submitted rows, each through the
// full create pipeline. Row failures do not stop the batch; every row
// reports its own outcome.
func (en *Engine) Import(ctx context.Context, actor hooks.Actor, collection string, rows []store.Record) *Result {
	e, res := en.entity(collection)
	if res != nil {
		return res
	}
	if res := en.gate(e, actor, meta.ModeImport); res != nil {
		return res
	}
	if len(rows) == 0 {
		return fail(CodeNoParams, "no rows given")
	}

	type rowResult struct {
		Row  int    `json:"row"`
		Code Code   `json:"code"`
		ID   string `json:"id,omitempty"`
		Err  string `json:"err,omitempty"`
	}

	results := make([]rowResult, 0, len(rows))
	created := 0
	for i, row := range rows {
		r := en.createRecord(ctx, actor, e, row)
		rr := rowResult{Row: i, Code: r.Code, Err: r.Err}
		if r.OK() {
			created++
			if rec, isRec := r.Data.(store.Record); isRec {
				rr.ID, _ = rec[store.IDField].(string)
			}
		}
		results = append(results, rr)
	}

	return ok(map[string]any{
		"created": created,
		"rows":    results,
	})
}
