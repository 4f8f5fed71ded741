// Package meta holds the entity metadata model: field declarations, the
// type-conversion registry, derived field-visibility sets, permission
// modes, and the builder that validates definitions into an immutable
// registry handle. Everything downstream (engine, web layer, CLI) reads
// collection shape from here and nothing mutates it after Build.
package meta

import (
	"fmt"

	"github.com/armature-dev/armature/hooks"
)

// DeletePolicy controls what happens to records referencing a deleted
// target. The zero value blocks the delete while references exist.
type DeletePolicy int

const (
	DeleteBlock DeletePolicy = iota
	DeleteKeep
	DeleteCascade
)

// String returns the string representation of the delete policy
func (p DeletePolicy) String() string {
	switch p {
	case DeleteBlock:
		return "block"
	case DeleteKeep:
		return "keep"
	case DeleteCascade:
		return "cascade"
	default:
		return "unknown"
	}
}

// ParseDeletePolicy converts a string to a DeletePolicy. The empty string
// parses to DeleteBlock, matching an omitted attribute.
func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch s {
	case "":
		return DeleteBlock, nil
	case "keep":
		return DeleteKeep, nil
	case "cascade":
		return DeleteCascade, nil
	default:
		return 0, fmt.Errorf("unknown delete policy: %s", s)
	}
}

// OpFlags are the server-side operation switches of one collection.
type OpFlags struct {
	Create bool
	Read   bool
	Update bool
	Delete bool
	Clone  bool
	Import bool
	Export bool
}

// CRUDOps returns flags with the four basic operations enabled.
func CRUDOps() OpFlags {
	return OpFlags{Create: true, Read: true, Update: true, Delete: true}
}

// AllOps returns flags with every operation enabled.
func AllOps() OpFlags {
	return OpFlags{Create: true, Read: true, Update: true, Delete: true, Clone: true, Import: true, Export: true}
}

// Field declares one attribute of a collection. The visibility pointers
// are tri-state: nil behaves exactly like true, so only an explicit false
// removes a field from the corresponding set.
type Field struct {
	Name     string
	Type     string
	Required bool
	Default  any

	// Ref names the target collection of a reference field. Only legal
	// on ref and refs typed fields.
	Ref string

	// Link marks a read-only denormalized copy, written as
	// "refField.sourceField". A link field may carry nothing besides
	// Name, Link, and List.
	Link string

	// OnDelete applies to the referencing side when the referenced
	// record is deleted.
	OnDelete DeletePolicy

	// Form is a free-form grouping tag consumed by form-rendering UIs.
	Form string

	Create *bool
	List   *bool
	Search *bool
	Update *bool
	Clone  *bool
	Sys    bool
	Secure bool
}

// Flag returns a pointer for the visibility fields.
func Flag(v bool) *bool {
	return &v
}

func flagOn(b *bool) bool {
	return b == nil || *b
}

// IsRef reports whether the field references another collection.
func (f *Field) IsRef() bool {
	return f.Ref != ""
}

// IsMultiRef reports whether the field holds a list of references.
func (f *Field) IsMultiRef() bool {
	return f.Ref != "" && f.Type == TypeRefs
}

// IsLink reports whether the field is a denormalized copy.
func (f *Field) IsLink() bool {
	return f.Link != ""
}

// Definition is the declarative input application code registers for one
// collection. The builder validates it and freezes it into an Entity.
type Definition struct {
	// Name is the collection name, unique across the registry.
	Name string

	// Fields in declaration order.
	Fields []Field

	// Keys lists the fields forming the uniqueness key checked on
	// create. All must name declared fields.
	Keys []string

	// RefLabel names the field other collections display and look up
	// when referencing records of this one.
	RefLabel string

	// UserField names the ownership field stamped with the caller id on
	// create and clone.
	UserField string

	// Auth requires an authenticated caller for every operation.
	Auth bool

	Ops OpFlags

	// Roles maps role names to mode strings (see ParseMode). An empty
	// map grants every role all flagged operations; a "*" key provides
	// the fallback for roles without an entry.
	Roles map[string]string

	Hooks hooks.Set
}

// BackRef records one field in another collection pointing at this one.
// Accumulated during Build and consulted by delete.
type BackRef struct {
	Entity *Entity
	Field  *Field
}

// Entity is the validated, immutable runtime form of a Definition.
// Instances are created by Builder.Build and shared across requests;
// nothing may mutate them afterward.
type Entity struct {
	Name      string
	Fields    []*Field
	Keys      []string
	RefLabel  string
	UserField string
	Auth      bool
	Ops       OpFlags
	Roles     map[string]string
	Hooks     hooks.Set

	fieldIndex map[string]*Field
	roleModes  map[string]Mode
	refFields  []*Field
	linkFields []*Field
	backRefs   []BackRef
	sets       fieldSets
}

// Field looks up a declared field by name.
func (e *Entity) Field(name string) (*Field, bool) {
	f, ok := e.fieldIndex[name]
	return f, ok
}

// HasField reports whether the entity declares the named field.
func (e *Entity) HasField(name string) bool {
	_, ok := e.fieldIndex[name]
	return ok
}

// RefFields returns the declared reference fields.
func (e *Entity) RefFields() []*Field {
	return e.refFields
}

// LinkFields returns the declared link fields.
func (e *Entity) LinkFields() []*Field {
	return e.linkFields
}

// BackRefs returns the fields of other collections referencing this one.
func (e *Entity) BackRefs() []BackRef {
	return e.backRefs
}
