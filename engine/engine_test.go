package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/armature-dev/armature/hooks"
	"github.com/armature-dev/armature/meta"
	"github.com/armature-dev/armature/store"
	"github.com/armature-dev/armature/store/memory"
)

// captureSink records published events for assertions.
type captureSink struct {
	events []Event
}

func (c *captureSink) Publish(ev Event) {
	c.events = append(c.events, ev)
}

func categoriesDef() meta.Definition {
	return meta.Definition{
		Name:     "categories",
		RefLabel: "name",
		Keys:     []string{"name"},
		Ops:      meta.AllOps(),
		Fields: []meta.Field{
			{Name: "name", Type: meta.TypeString, Required: true},
		},
	}
}

func productsDef() meta.Definition {
	return meta.Definition{
		Name:     "products",
		RefLabel: "name",
		Keys:     []string{"name"},
		Ops:      meta.AllOps(),
		Fields: []meta.Field{
			{Name: "name", Type: meta.TypeString, Required: true},
			{Name: "price", Type: meta.TypeFloat, Default: float64(0)},
			{Name: "category", Type: meta.TypeRef, Ref: "categories"},
			{Name: "category_name", Link: "category.name"},
		},
	}
}

func buildRegistry(t *testing.T, defs ...meta.Definition) *meta.Registry {
	t.Helper()
	b := meta.NewBuilder(nil)
	for _, def := range defs {
		require.NoError(t, b.Register(def))
	}
	reg, err := b.Build()
	require.NoError(t, err)
	return reg
}

func newTestEngine(t *testing.T, defs ...meta.Definition) (*Engine, *memory.Store) {
	t.Helper()
	st := memory.New()
	return New(buildRegistry(t, defs...), st, zap.NewNop(), nil), st
}

// seed inserts a record directly, bypassing the pipeline.
func seed(t *testing.T, st *memory.Store, collection, id string, rec store.Record) {
	t.Helper()
	rec[store.IDField] = id
	require.NoError(t, st.Insert(context.Background(), collection, rec))
}

func countAll(t *testing.T, st *memory.Store, collection string) int {
	t.Helper()
	n, err := st.Count(context.Background(), collection, nil)
	require.NoError(t, err)
	return n
}

func TestCreate(t *testing.T) {
	en, st := newTestEngine(t, categoriesDef(), productsDef())
	ctx := context.Background()
	actor := hooks.Actor{ID: "u1", Role: "admin"}

	seed(t, st, "categories", "cat1", store.Record{"name": "Books"})

	res := en.Create(ctx, actor, "products", store.Record{
		"name":     "Dune",
		"price":    9.99,
		"category": "cat1",
	})
	require.True(t, res.OK(), "create failed: %s", res.Err)

	rec, isRec := res.Data.(store.Record)
	require.True(t, isRec)
	assert.NotEmpty(t, rec[store.IDField])
	assert.NotEmpty(t, rec[FieldCreatedAt])
	assert.NotEmpty(t, rec[FieldUpdatedAt])
	assert.Equal(t, "Dune", rec["name"])
	assert.Equal(t, 9.99, rec["price"])
	assert.Equal(t, "Books", rec["category"], "reference should display the target label")
	assert.Equal(t, "Books", rec["category_name"], "link should copy the target attribute")

	assert.Equal(t, 1, countAll(t, st, "products"))
}

func TestCreateMissingRequired(t *testing.T) {
	en, st := newTestEngine(t, categoriesDef(), productsDef())

	res := en.Create(context.Background(), hooks.Actor{ID: "u1"}, "products", store.Record{
		"price": 5.0,
	})
	require.False(t, res.OK())
	assert.Equal(t, CodeNoParams, res.Code)
	assert.Contains(t, res.Err, "name", "the missing field must be named")
	require.Len(t, res.Fields, 1)
	assert.Equal(t, "name", res.Fields[0].Field)

	assert.Equal(t, 0, countAll(t, st, "products"), "nothing may persist on a failed create")
}

func TestCreateBeforeHookAbort(t *testing.T) {
	def := categoriesDef()
	def.Hooks.BeforeCreate = func(ctx context.Context, c *hooks.CreateContext) *hooks.Result {
		return &hooks.Result{Code: 422, Err: "x"}
	}
	en, st := newTestEngine(t, def)

	res := en.Create(context.Background(), hooks.Actor{ID: "u1"}, "categories", store.Record{"name": "Books"})
	require.False(t, res.OK())
	assert.Equal(t, Code(422), res.Code, "hook code must surface unreinterpreted")
	assert.Equal(t, "x", res.Err, "hook message must surface verbatim")
	assert.Equal(t, 422, res.Code.HTTPStatus())

	assert.Equal(t, 0, countAll(t, st, "categories"), "an aborted create may not persist")
}

func TestCreateBeforeHookMutatesDraft(t *testing.T) {
	def := categoriesDef()
	def.Hooks.BeforeCreate = func(ctx context.Context, c *hooks.CreateContext) *hooks.Result {
		c.Record["name"] = "Renamed"
		return nil
	}
	en, st := newTestEngine(t, def)
	ctx := context.Background()

	res := en.Create(ctx, hooks.Actor{ID: "u1"}, "categories", store.Record{"name": "Books"})
	require.True(t, res.OK(), res.Err)

	recs, err := st.Find(ctx, "categories", store.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Renamed", recs[0]["name"])
}

func TestCreateDuplicateKey(t *testing.T) {
	en, _ := newTestEngine(t, categoriesDef())
	ctx := context.Background()
	actor := hooks.Actor{ID: "u1"}

	require.True(t, en.Create(ctx, actor, "categories", store.Record{"name": "Books"}).OK())

	res := en.Create(ctx, actor, "categories", store.Record{"name": "Books"})
	require.False(t, res.OK())
	assert.Equal(t, CodeDuplicate, res.Code)
	assert.Contains(t, res.Err, "name")
}

func TestCreateInvalidValue(t *testing.T) {
	en, st := newTestEngine(t, categoriesDef(), productsDef())

	res := en.Create(context.Background(), hooks.Actor{ID: "u1"}, "products", store.Record{
		"name":  "Dune",
		"price": "not a number",
	})
	require.False(t, res.OK())
	assert.Equal(t, CodeInvalidParams, res.Code)
	require.Len(t, res.Fields, 1)
	assert.Equal(t, "price", res.Fields[0].Field)
	assert.Equal(t, 0, countAll(t, st, "products"))
}

func TestCreateDropsUndeclaredAttributes(t *testing.T) {
	en, st := newTestEngine(t, categoriesDef())
	ctx := context.Background()

	res := en.Create(ctx, hooks.Actor{ID: "u1"}, "categories", store.Record{
		"name":    "Books",
		"sneaky":  "value",
		"id":      "forced-id",
		"deleted": true,
	})
	require.True(t, res.OK(), res.Err)

	recs, err := st.Find(ctx, "categories", store.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotContains(t, recs[0], "sneaky")
	assert.NotContains(t, recs[0], "deleted")
	assert.NotEqual(t, "forced-id", recs[0][store.IDField])
}

func TestCreateStampsOwner(t *testing.T) {
	def := meta.Definition{
		Name:      "notes",
		UserField: "owner",
		Ops:       meta.CRUDOps(),
		Fields: []meta.Field{
			{Name: "body", Type: meta.TypeText, Required: true},
			{Name: "owner", Type: meta.TypeString, Sys: true},
		},
	}
	en, st := newTestEngine(t, def)
	ctx := context.Background()

	res := en.Create(ctx, hooks.Actor{ID: "u42", Role: "member"}, "notes", store.Record{"body": "hi"})
	require.True(t, res.OK(), res.Err)

	recs, err := st.Find(ctx, "notes", store.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "u42", recs[0]["owner"])

	rec := res.Data.(store.Record)
	assert.NotContains(t, rec, "owner", "sys fields stay out of the projection")
}

func TestCreateRequiresFlag(t *testing.T) {
	def := categoriesDef()
	def.Ops = meta.OpFlags{Read: true}
	en, st := newTestEngine(t, def)

	res := en.Create(context.Background(), hooks.Actor{ID: "u1"}, "categories", store.Record{"name": "Books"})
	require.False(t, res.OK())
	assert.Equal(t, CodeNoRights, res.Code)
	assert.Equal(t, 0, countAll(t, st, "categories"))
}

func TestCreateRequiresSession(t *testing.T) {
	def := categoriesDef()
	def.Auth = true
	en, _ := newTestEngine(t, def)

	res := en.Create(context.Background(), hooks.Actor{}, "categories", store.Record{"name": "Books"})
	require.False(t, res.OK())
	assert.Equal(t, CodeNoSession, res.Code)
}

func TestUnknownCollection(t *testing.T) {
	en, _ := newTestEngine(t, categoriesDef())

	res := en.Create(context.Background(), hooks.Actor{ID: "u1"}, "missing", store.Record{"name": "x"})
	require.False(t, res.OK())
	assert.Equal(t, CodeNotFound, res.Code)
	assert.Contains(t, res.Err, "missing")
}

func TestUpdatePatch(t *testing.T) {
	en, st := newTestEngine(t, categoriesDef(), productsDef())
	ctx := context.Background()
	actor := hooks.Actor{ID: "u1"}

	seed(t, st, "products", "p1", store.Record{"name": "Dune", "price": 9.99})

	res := en.Update(ctx, actor, "products", "p1", store.Record{"price": 12.5})
	require.True(t, res.OK(), res.Err)

	stored, err := st.Get(ctx, "products", "p1")
	require.NoError(t, err)
	assert.Equal(t, 12.5, stored["price"])
	assert.Equal(t, "Dune", stored["name"], "untouched attributes stay")
	assert.NotEmpty(t, stored[FieldUpdatedAt])
}

func TestUpdateClearsOptionalAttribute(t *testing.T) {
	en, st := newTestEngine(t, categoriesDef(), productsDef())
	ctx := context.Background()

	seed(t, st, "products", "p1", store.Record{"name": "Dune", "price": 9.99})

	res := en.Update(ctx, hooks.Actor{ID: "u1"}, "products", "p1", store.Record{"price": nil})
	require.True(t, res.OK(), res.Err)

	stored, err := st.Get(ctx, "products", "p1")
	require.NoError(t, err)
	assert.NotContains(t, stored, "price")
}

func TestUpdateRejectsClearingRequired(t *testing.T) {
	en, st := newTestEngine(t, categoriesDef(), productsDef())
	ctx := context.Background()

	seed(t, st, "products", "p1", store.Record{"name": "Dune"})

	res := en.Update(ctx, hooks.Actor{ID: "u1"}, "products", "p1", store.Record{"name": nil})
	require.False(t, res.OK())
	assert.Equal(t, CodeNoParams, res.Code)
	assert.Contains(t, res.Err, "name")

	stored, err := st.Get(ctx, "products", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Dune", stored["name"])
}

func TestUpdateNotFound(t *testing.T) {
	en, _ := newTestEngine(t, categoriesDef())

	res := en.Update(context.Background(), hooks.Actor{ID: "u1"}, "categories", "nope", store.Record{"name": "x"})
	require.False(t, res.OK())
	assert.Equal(t, CodeNotFound, res.Code)
}

func TestUpdateDuplicateKey(t *testing.T) {
	en, st := newTestEngine(t, categoriesDef())
	ctx := context.Background()

	seed(t, st, "categories", "c1", store.Record{"name": "Books"})
	seed(t, st, "categories", "c2", store.Record{"name": "Music"})

	res := en.Update(ctx, hooks.Actor{ID: "u1"}, "categories", "c2", store.Record{"name": "Books"})
	require.False(t, res.OK())
	assert.Equal(t, CodeDuplicate, res.Code)

	// Renaming to the record's own key value is not a collision.
	res = en.Update(ctx, hooks.Actor{ID: "u1"}, "categories", "c2", store.Record{"name": "Music"})
	assert.True(t, res.OK(), res.Err)
}

func TestUpdateBeforeHookMutatesPatch(t *testing.T) {
	def := productsDef()
	def.Hooks.BeforeUpdate = func(ctx context.Context, u *hooks.UpdateContext) *hooks.Result {
		u.Patch["price"] = 1.0
		return nil
	}
	en, st := newTestEngine(t, categoriesDef(), def)
	ctx := context.Background()

	seed(t, st, "products", "p1", store.Record{"name": "Dune", "price": 9.99})

	res := en.Update(ctx, hooks.Actor{ID: "u1"}, "products", "p1", store.Record{"price": 50.0})
	require.True(t, res.OK(), res.Err)

	stored, err := st.Get(ctx, "products", "p1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, stored["price"])
}

func TestBatchUpdate(t *testing.T) {
	en, st := newTestEngine(t, categoriesDef(), productsDef())
	ctx := context.Background()

	seed(t, st, "products", "p1", store.Record{"name": "Dune", "price": 1.0})
	seed(t, st, "products", "p2", store.Record{"name": "Foundation", "price": 2.0})

	res := en.BatchUpdate(ctx, hooks.Actor{ID: "u1"}, "products", []string{"p1", "p2", "ghost"}, store.Record{"price": 7.0})
	require.True(t, res.OK(), res.Err)

	data := res.Data.(map[string]any)
	assert.Equal(t, 2, data["updated"])

	for _, id := range []string{"p1", "p2"} {
		stored, err := st.Get(ctx, "products", id)
		require.NoError(t, err)
		assert.Equal(t, 7.0, stored["price"])
	}
}

func TestBatchUpdateEmptyIDs(t *testing.T) {
	en, _ := newTestEngine(t, categoriesDef(), productsDef())

	res := en.BatchUpdate(context.Background(), hooks.Actor{ID: "u1"}, "products", nil, store.Record{"price": 7.0})
	require.False(t, res.OK())
	assert.Equal(t, CodeNoParams, res.Code)
}

func TestBatchUpdateRequiresUpdateFlag(t *testing.T) {
	def := productsDef()
	def.Ops = meta.OpFlags{Read: true}
	en, _ := newTestEngine(t, categoriesDef(), def)

	res := en.BatchUpdate(context.Background(), hooks.Actor{ID: "u1"}, "products", []string{"p1"}, store.Record{"price": 7.0})
	require.False(t, res.OK())
	assert.Equal(t, CodeNoRights, res.Code)
}

func TestClone(t *testing.T) {
	def := meta.Definition{
		Name: "documents",
		Keys: []string{"title"},
		Ops:  meta.AllOps(),
		Fields: []meta.Field{
			{Name: "title", Type: meta.TypeString, Required: true},
			{Name: "body", Type: meta.TypeText},
			{Name: "revision", Type: meta.TypeInt, Clone: meta.Flag(false), Default: int64(1)},
		},
	}
	en, st := newTestEngine(t, def)
	ctx := context.Background()

	seed(t, st, "documents", "d1", store.Record{"title": "Plan", "body": "step one", "revision": int64(9)})

	res := en.Clone(ctx, hooks.Actor{ID: "u1"}, "documents", "d1", store.Record{"title": "Plan copy"})
	require.True(t, res.OK(), res.Err)

	rec := res.Data.(store.Record)
	newID := rec[store.IDField].(string)
	assert.NotEqual(t, "d1", newID)

	stored, err := st.Get(ctx, "documents", newID)
	require.NoError(t, err)
	assert.Equal(t, "Plan copy", stored["title"])
	assert.Equal(t, "step one", stored["body"], "clone-eligible attributes carry over")
	assert.Equal(t, int64(1), stored["revision"], "clone-excluded attributes restart at the default")
}

func TestCloneDuplicateWithoutOverride(t *testing.T) {
	en, st := newTestEngine(t, categoriesDef())
	ctx := context.Background()

	seed(t, st, "categories", "c1", store.Record{"name": "Books"})

	res := en.Clone(ctx, hooks.Actor{ID: "u1"}, "categories", "c1", nil)
	require.False(t, res.OK())
	assert.Equal(t, CodeDuplicate, res.Code)
	assert.Equal(t, 1, countAll(t, st, "categories"))
}

func TestCloneSourceNotFound(t *testing.T) {
	en, _ := newTestEngine(t, categoriesDef())

	res := en.Clone(context.Background(), hooks.Actor{ID: "u1"}, "categories", "ghost", nil)
	require.False(t, res.OK())
	assert.Equal(t, CodeNotFound, res.Code)
}

func TestImport(t *testing.T) {
	en, st := newTestEngine(t, categoriesDef())
	ctx := context.Background()

	res := en.Import(ctx, hooks.Actor{ID: "u1"}, "categories", []store.Record{
		{"name": "Books"},
		{"name": "Music"},
		{},
		{"name": "Books"},
	})
	require.True(t, res.OK(), res.Err)

	data := res.Data.(map[string]any)
	assert.Equal(t, 2, data["created"])
	assert.Equal(t, 2, countAll(t, st, "categories"))
}

func TestImportRequiresFlag(t *testing.T) {
	def := categoriesDef()
	def.Ops = meta.CRUDOps()
	en, _ := newTestEngine(t, def)

	res := en.Import(context.Background(), hooks.Actor{ID: "u1"}, "categories", []store.Record{{"name": "Books"}})
	require.False(t, res.OK())
	assert.Equal(t, CodeNoRights, res.Code)
}

func TestCustomCreateHandler(t *testing.T) {
	var handled store.Record
	def := categoriesDef()
	def.Hooks.Create = func(ctx context.Context, c *hooks.CreateContext) (store.Record, error) {
		handled = c.Record
		return c.Record, nil
	}
	en, st := newTestEngine(t, def)

	res := en.Create(context.Background(), hooks.Actor{ID: "u1"}, "categories", store.Record{"name": "Books"})
	require.True(t, res.OK(), res.Err)
	require.NotNil(t, handled)
	assert.NotEmpty(t, handled[store.IDField], "the handler sees the fully prepared draft")
	assert.Equal(t, 0, countAll(t, st, "categories"), "a custom handler owns persistence")
}

func TestCustomHandlerTypedAbort(t *testing.T) {
	def := categoriesDef()
	def.Hooks.Create = func(ctx context.Context, c *hooks.CreateContext) (store.Record, error) {
		return nil, hooks.Fail(451, "refused")
	}
	en, _ := newTestEngine(t, def)

	res := en.Create(context.Background(), hooks.Actor{ID: "u1"}, "categories", store.Record{"name": "Books"})
	require.False(t, res.OK())
	assert.Equal(t, Code(451), res.Code)
	assert.Equal(t, "refused", res.Err)
}

func TestAfterHookFailureDoesNotUndoWrite(t *testing.T) {
	def := categoriesDef()
	def.Hooks.AfterCreate = func(ctx context.Context, c *hooks.CreateContext) error {
		return assert.AnError
	}
	en, st := newTestEngine(t, def)

	res := en.Create(context.Background(), hooks.Actor{ID: "u1"}, "categories", store.Record{"name": "Books"})
	require.True(t, res.OK(), "after hook failures are logged, not surfaced")
	assert.Equal(t, 1, countAll(t, st, "categories"))
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	sink := &captureSink{}
	st := memory.New()
	en := New(buildRegistry(t, categoriesDef()), st, zap.NewNop(), sink)
	ctx := context.Background()
	actor := hooks.Actor{ID: "u1"}

	res := en.Create(ctx, actor, "categories", store.Record{"name": "Books"})
	require.True(t, res.OK(), res.Err)
	id := res.Data.(store.Record)[store.IDField].(string)

	require.True(t, en.Update(ctx, actor, "categories", id, store.Record{"name": "Texts"}).OK())
	require.True(t, en.Delete(ctx, actor, "categories", id).OK())

	require.Len(t, sink.events, 3)
	assert.Equal(t, ActionCreate, sink.events[0].Action)
	assert.Equal(t, ActionUpdate, sink.events[1].Action)
	assert.Equal(t, ActionDelete, sink.events[2].Action)
	for _, ev := range sink.events {
		assert.Equal(t, "categories", ev.Collection)
		assert.Equal(t, id, ev.ID)
	}
}

func TestFailedCreatePublishesNothing(t *testing.T) {
	sink := &captureSink{}
	st := memory.New()
	en := New(buildRegistry(t, categoriesDef()), st, zap.NewNop(), sink)

	res := en.Create(context.Background(), hooks.Actor{ID: "u1"}, "categories", store.Record{})
	require.False(t, res.OK())
	assert.Empty(t, sink.events)
}
