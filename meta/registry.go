package meta

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrEntityNotFound is returned by Lookup for unregistered collections.
var ErrEntityNotFound = errors.New("entity not registered")

// Builder collects entity definitions and validates them into a Registry.
// Constructing a builder seals the type table, so every custom type must
// exist before the first Register call; the returned Registry is the only
// way to reach entities, so no lookup can observe a half-registered
// state.
type Builder struct {
	mu       sync.Mutex
	types    *Types
	entities map[string]*Entity
	order    []string
	built    bool
}

// NewBuilder creates a builder over the given type table. A nil table
// gets the built-ins only.
func NewBuilder(types *Types) *Builder {
	if types == nil {
		types = NewTypes()
	}
	types.seal()
	return &Builder{
		types:    types,
		entities: make(map[string]*Entity),
	}
}

// Register validates one definition structurally and stores it. Cross-
// collection references stay unchecked until Build so that collections
// may be registered in any order.
func (b *Builder) Register(def Definition) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.built {
		return fmt.Errorf("registry already built: cannot register %s", def.Name)
	}
	if def.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	if _, exists := b.entities[def.Name]; exists {
		return fmt.Errorf("collection %s is already registered", def.Name)
	}

	e, err := b.buildEntity(def)
	if err != nil {
		return fmt.Errorf("invalid definition for %s: %w", def.Name, err)
	}

	b.entities[def.Name] = e
	b.order = append(b.order, def.Name)
	return nil
}

// buildEntity runs the per-collection checks and freezes the definition
// into an Entity. Fields are copied so later mutation of the caller's
// definition cannot leak in.
func (b *Builder) buildEntity(def Definition) (*Entity, error) {
	e := &Entity{
		Name:       def.Name,
		Keys:       append([]string(nil), def.Keys...),
		RefLabel:   def.RefLabel,
		UserField:  def.UserField,
		Auth:       def.Auth,
		Ops:        def.Ops,
		Roles:      def.Roles,
		Hooks:      def.Hooks,
		fieldIndex: make(map[string]*Field, len(def.Fields)),
	}

	for i := range def.Fields {
		f := def.Fields[i]
		if f.Name == "" {
			return nil, fmt.Errorf("field %d has no name", i)
		}
		if _, dup := e.fieldIndex[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field name %s", f.Name)
		}

		if f.IsLink() {
			if err := checkLinkAttrs(&f); err != nil {
				return nil, err
			}
		} else {
			typ, ok := b.types.Get(f.Type)
			if !ok {
				return nil, fmt.Errorf("field %s has unknown type %s", f.Name, f.Type)
			}
			if f.Ref != "" && f.Type != TypeRef && f.Type != TypeRefs {
				return nil, fmt.Errorf("field %s declares a ref target but has type %s", f.Name, f.Type)
			}
			if (f.Type == TypeRef || f.Type == TypeRefs) && f.Ref == "" {
				return nil, fmt.Errorf("field %s has type %s but no ref target", f.Name, f.Type)
			}
			if f.Default != nil {
				converted, err := typ.Convert(f.Default)
				if err != nil {
					return nil, fmt.Errorf("default for field %s does not match type %s: %w", f.Name, f.Type, err)
				}
				f.Default = converted
			}
		}

		fp := &f
		e.Fields = append(e.Fields, fp)
		e.fieldIndex[f.Name] = fp
		if fp.IsRef() {
			e.refFields = append(e.refFields, fp)
		}
		if fp.IsLink() {
			e.linkFields = append(e.linkFields, fp)
		}
	}

	for _, key := range e.Keys {
		if !e.HasField(key) {
			return nil, fmt.Errorf("key field %s is not declared", key)
		}
	}

	e.sets = deriveSets(e.Fields)
	return e, nil
}

// checkLinkAttrs enforces that a link field carries nothing besides
// name, link, and list.
func checkLinkAttrs(f *Field) error {
	illegal := f.Type != "" || f.Required || f.Default != nil ||
		f.Ref != "" || f.OnDelete != DeleteBlock || f.Form != "" ||
		f.Create != nil || f.Search != nil || f.Update != nil ||
		f.Clone != nil || f.Sys || f.Secure
	if illegal {
		return fmt.Errorf("link field %s may only carry name, link, and list", f.Name)
	}
	return nil
}

// Build cross-validates every registered collection, accumulates back-
// reference sets, and returns the immutable registry. After Build the
// builder rejects further registration.
func (b *Builder) Build() (*Registry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.built {
		return nil, fmt.Errorf("registry already built")
	}

	for _, name := range b.order {
		e := b.entities[name]
		if err := b.crossValidate(e); err != nil {
			return nil, fmt.Errorf("validation failed for %s: %w", name, err)
		}
	}

	// Back references accumulate only once every collection has passed,
	// in registration order so delete reports blocking collections
	// deterministically.
	for _, name := range b.order {
		e := b.entities[name]
		for _, f := range e.refFields {
			target := b.entities[f.Ref]
			target.backRefs = append(target.backRefs, BackRef{Entity: e, Field: f})
		}
	}

	b.built = true
	return &Registry{
		entities: b.entities,
		order:    b.order,
		types:    b.types,
	}, nil
}

func (b *Builder) crossValidate(e *Entity) error {
	if e.RefLabel != "" && !e.HasField(e.RefLabel) {
		return fmt.Errorf("ref_label names unknown field %s", e.RefLabel)
	}
	if e.UserField != "" && !e.HasField(e.UserField) {
		return fmt.Errorf("user_field names unknown field %s", e.UserField)
	}

	if len(e.Roles) > 0 {
		e.roleModes = make(map[string]Mode, len(e.Roles))
		for role, modeStr := range e.Roles {
			mode, err := ParseMode(modeStr)
			if err != nil {
				return fmt.Errorf("role %s: %w", role, err)
			}
			e.roleModes[role] = mode
		}
	}

	for _, f := range e.refFields {
		if _, ok := b.entities[f.Ref]; !ok {
			return fmt.Errorf("field %s references unknown collection %s", f.Name, f.Ref)
		}
	}

	for _, f := range e.linkFields {
		refName, srcName, ok := strings.Cut(f.Link, ".")
		if !ok || refName == "" || srcName == "" {
			return fmt.Errorf("link field %s must use the refField.sourceField form", f.Name)
		}
		refField, ok := e.Field(refName)
		if !ok {
			return fmt.Errorf("link field %s names unknown field %s", f.Name, refName)
		}
		if !refField.IsRef() || refField.IsMultiRef() {
			return fmt.Errorf("link field %s must follow a single reference field, %s is not one", f.Name, refName)
		}
		target, ok := b.entities[refField.Ref]
		if !ok {
			// Reported against the reference field itself.
			continue
		}
		if !target.HasField(srcName) {
			return fmt.Errorf("link field %s copies unknown field %s.%s", f.Name, refField.Ref, srcName)
		}
	}

	return nil
}

// Registry is the immutable set of validated entities. Safe for
// concurrent use without locking since nothing mutates after Build.
type Registry struct {
	entities map[string]*Entity
	order    []string
	types    *Types
}

// Lookup retrieves an entity by collection name.
func (r *Registry) Lookup(name string) (*Entity, error) {
	e, ok := r.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, name)
	}
	return e, nil
}

// Entities returns every entity in registration order.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entities[name])
	}
	return out
}

// Names returns the collection names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Count returns the number of registered collections.
func (r *Registry) Count() int {
	return len(r.entities)
}

// Types returns the sealed type table the registry was built over.
func (r *Registry) Types() *Types {
	return r.types
}
