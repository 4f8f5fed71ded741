package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productsDef() Definition {
	return Definition{
		Name:     "products",
		RefLabel: "name",
		Ops:      CRUDOps(),
		Fields: []Field{
			{Name: "name", Type: TypeString, Required: true},
			{Name: "price", Type: TypeFloat},
			{Name: "category", Type: TypeRef, Ref: "categories", OnDelete: DeleteKeep},
		},
		Keys: []string{"name"},
	}
}

func categoriesDef() Definition {
	return Definition{
		Name:     "categories",
		RefLabel: "title",
		Ops:      CRUDOps(),
		Fields: []Field{
			{Name: "title", Type: TypeString, Required: true},
		},
	}
}

func TestRegisterAndBuild(t *testing.T) {
	b := NewBuilder(nil)
	require.NoError(t, b.Register(categoriesDef()))
	require.NoError(t, b.Register(productsDef()))

	reg, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Count())

	e, err := reg.Lookup("products")
	require.NoError(t, err)
	assert.Equal(t, "products", e.Name)
	assert.Len(t, e.RefFields(), 1)
}

func TestLookupNotFound(t *testing.T) {
	b := NewBuilder(nil)
	reg, err := b.Build()
	require.NoError(t, err)

	_, err = reg.Lookup("ghosts")
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestRegisterDuplicateCollection(t *testing.T) {
	b := NewBuilder(nil)
	require.NoError(t, b.Register(categoriesDef()))

	err := b.Register(categoriesDef())
	assert.ErrorContains(t, err, "already registered")
}

func TestRegisterDuplicateFieldNames(t *testing.T) {
	b := NewBuilder(nil)
	err := b.Register(Definition{
		Name: "things",
		Fields: []Field{
			{Name: "label", Type: TypeString},
			{Name: "label", Type: TypeString},
		},
	})
	assert.ErrorContains(t, err, "duplicate field name label")
}

func TestRegisterUnknownType(t *testing.T) {
	b := NewBuilder(nil)
	err := b.Register(Definition{
		Name:   "things",
		Fields: []Field{{Name: "blob", Type: "tensor"}},
	})
	assert.ErrorContains(t, err, "unknown type tensor")
}

func TestRegisterKeysMustBeDeclared(t *testing.T) {
	b := NewBuilder(nil)
	err := b.Register(Definition{
		Name:   "things",
		Fields: []Field{{Name: "label", Type: TypeString}},
		Keys:   []string{"serial"},
	})
	assert.ErrorContains(t, err, "key field serial is not declared")
}

func TestRegisterDefaultMustTypeCheck(t *testing.T) {
	b := NewBuilder(nil)
	err := b.Register(Definition{
		Name:   "things",
		Fields: []Field{{Name: "count", Type: TypeInt, Default: "many"}},
	})
	assert.ErrorContains(t, err, "default for field count")
}

func TestRegisterRefTargetRequiresRefType(t *testing.T) {
	b := NewBuilder(nil)
	err := b.Register(Definition{
		Name:   "things",
		Fields: []Field{{Name: "owner", Type: TypeString, Ref: "users"}},
	})
	assert.ErrorContains(t, err, "declares a ref target")

	err = b.Register(Definition{
		Name:   "others",
		Fields: []Field{{Name: "owner", Type: TypeRef}},
	})
	assert.ErrorContains(t, err, "no ref target")
}

func TestLinkFieldAttributeRestriction(t *testing.T) {
	cases := []struct {
		name  string
		field Field
	}{
		{"type", Field{Name: "cat_title", Link: "category.title", Type: TypeString}},
		{"required", Field{Name: "cat_title", Link: "category.title", Required: true}},
		{"default", Field{Name: "cat_title", Link: "category.title", Default: "x"}},
		{"ref", Field{Name: "cat_title", Link: "category.title", Ref: "categories"}},
		{"secure", Field{Name: "cat_title", Link: "category.title", Secure: true}},
		{"create flag", Field{Name: "cat_title", Link: "category.title", Create: Flag(false)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder(nil)
			err := b.Register(Definition{
				Name:   "products",
				Fields: []Field{tc.field},
			})
			assert.ErrorContains(t, err, "may only carry name, link, and list")
		})
	}
}

func TestLinkFieldListFlagAllowed(t *testing.T) {
	b := NewBuilder(nil)
	require.NoError(t, b.Register(categoriesDef()))
	require.NoError(t, b.Register(Definition{
		Name: "products",
		Fields: []Field{
			{Name: "name", Type: TypeString},
			{Name: "category", Type: TypeRef, Ref: "categories"},
			{Name: "category_title", Link: "category.title", List: Flag(false)},
		},
	}))

	_, err := b.Build()
	assert.NoError(t, err)
}

func TestBuildFailsOnUnknownRefTarget(t *testing.T) {
	b := NewBuilder(nil)
	require.NoError(t, b.Register(productsDef()))

	_, err := b.Build()
	assert.ErrorContains(t, err, "references unknown collection categories")
}

func TestBuildFailsOnUnknownRefLabel(t *testing.T) {
	b := NewBuilder(nil)
	require.NoError(t, b.Register(Definition{
		Name:     "things",
		RefLabel: "title",
		Fields:   []Field{{Name: "label", Type: TypeString}},
	}))

	_, err := b.Build()
	assert.ErrorContains(t, err, "ref_label names unknown field title")
}

func TestBuildFailsOnUnknownUserField(t *testing.T) {
	b := NewBuilder(nil)
	require.NoError(t, b.Register(Definition{
		Name:      "things",
		UserField: "owner",
		Fields:    []Field{{Name: "label", Type: TypeString}},
	}))

	_, err := b.Build()
	assert.ErrorContains(t, err, "user_field names unknown field owner")
}

func TestBuildFailsOnBadRoleMode(t *testing.T) {
	b := NewBuilder(nil)
	require.NoError(t, b.Register(Definition{
		Name:   "things",
		Fields: []Field{{Name: "label", Type: TypeString}},
		Roles:  map[string]string{"editor": "crux"},
	}))

	_, err := b.Build()
	assert.ErrorContains(t, err, "unknown mode character")
}

func TestBuildValidatesLinkPath(t *testing.T) {
	t.Run("unknown ref field", func(t *testing.T) {
		b := NewBuilder(nil)
		require.NoError(t, b.Register(categoriesDef()))
		require.NoError(t, b.Register(Definition{
			Name: "products",
			Fields: []Field{
				{Name: "name", Type: TypeString},
				{Name: "cat_title", Link: "category.title"},
			},
		}))

		_, err := b.Build()
		assert.ErrorContains(t, err, "names unknown field category")
	})

	t.Run("source field missing on target", func(t *testing.T) {
		b := NewBuilder(nil)
		require.NoError(t, b.Register(categoriesDef()))
		require.NoError(t, b.Register(Definition{
			Name: "products",
			Fields: []Field{
				{Name: "category", Type: TypeRef, Ref: "categories"},
				{Name: "cat_color", Link: "category.color"},
			},
		}))

		_, err := b.Build()
		assert.ErrorContains(t, err, "copies unknown field categories.color")
	})

	t.Run("multi ref not allowed", func(t *testing.T) {
		b := NewBuilder(nil)
		require.NoError(t, b.Register(categoriesDef()))
		require.NoError(t, b.Register(Definition{
			Name: "products",
			Fields: []Field{
				{Name: "cats", Type: TypeRefs, Ref: "categories"},
				{Name: "cat_title", Link: "cats.title"},
			},
		}))

		_, err := b.Build()
		assert.ErrorContains(t, err, "must follow a single reference field")
	})
}

func TestBuildAccumulatesBackRefs(t *testing.T) {
	b := NewBuilder(nil)
	require.NoError(t, b.Register(categoriesDef()))
	require.NoError(t, b.Register(productsDef()))
	require.NoError(t, b.Register(Definition{
		Name: "promotions",
		Fields: []Field{
			{Name: "category", Type: TypeRef, Ref: "categories", OnDelete: DeleteCascade},
		},
	}))

	reg, err := b.Build()
	require.NoError(t, err)

	cats, err := reg.Lookup("categories")
	require.NoError(t, err)

	refs := cats.BackRefs()
	require.Len(t, refs, 2)
	assert.Equal(t, "products", refs[0].Entity.Name)
	assert.Equal(t, DeleteKeep, refs[0].Field.OnDelete)
	assert.Equal(t, "promotions", refs[1].Entity.Name)
	assert.Equal(t, DeleteCascade, refs[1].Field.OnDelete)
}

func TestRegisterAfterBuildFails(t *testing.T) {
	b := NewBuilder(nil)
	_, err := b.Build()
	require.NoError(t, err)

	err = b.Register(categoriesDef())
	assert.ErrorContains(t, err, "already built")

	_, err = b.Build()
	assert.ErrorContains(t, err, "already built")
}

func TestTypeTableSealedByBuilder(t *testing.T) {
	types := NewTypes()
	require.NoError(t, types.Register(Type{
		Name:    "slug",
		Convert: func(v any) (any, error) { return v, nil },
	}))

	NewBuilder(types)

	err := types.Register(Type{
		Name:    "late",
		Convert: func(v any) (any, error) { return v, nil },
	})
	assert.ErrorContains(t, err, "sealed")
}

func TestDefinitionCopyIsolation(t *testing.T) {
	def := categoriesDef()
	b := NewBuilder(nil)
	require.NoError(t, b.Register(def))

	// Mutating the caller's definition after registration must not leak
	def.Fields[0].Name = "mutated"
	reg, err := b.Build()
	require.NoError(t, err)

	e, err := reg.Lookup("categories")
	require.NoError(t, err)
	assert.True(t, e.HasField("title"))
}
