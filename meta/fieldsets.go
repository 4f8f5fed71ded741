package meta

// fieldSets caches the derived visibility subsets of one entity. Computed
// once during Build; the slices share the entity's Field pointers.
type fieldSets struct {
	create   []*Field
	update   []*Field
	search   []*Field
	clone    []*Field
	list     []*Field
	client   []*Field
	property []*Field
}

// deriveSets filters the field list into the per-operation subsets. A
// visibility flag left unset counts as true. Link fields are materialized
// at read time, so they never enter the write-side sets.
func deriveSets(fields []*Field) fieldSets {
	var s fieldSets
	for _, f := range fields {
		writable := !f.IsLink()

		if writable && flagOn(f.Create) {
			s.create = append(s.create, f)
		}
		if writable && flagOn(f.Update) {
			s.update = append(s.update, f)
		}
		if writable && flagOn(f.Search) {
			s.search = append(s.search, f)
		}
		if writable && flagOn(f.Clone) {
			s.clone = append(s.clone, f)
		}
		if flagOn(f.List) {
			s.list = append(s.list, f)
		}
		if !f.Sys {
			s.client = append(s.client, f)
		}
		if !f.Sys && !f.Secure {
			s.property = append(s.property, f)
		}
	}
	return s
}

// CreateFields returns the fields accepted by create.
func (e *Entity) CreateFields() []*Field {
	return e.sets.create
}

// UpdateFields returns the fields accepted by update.
func (e *Entity) UpdateFields() []*Field {
	return e.sets.update
}

// SearchFields returns the fields usable as list search parameters.
func (e *Entity) SearchFields() []*Field {
	return e.sets.search
}

// CloneFields returns the fields copied from the source record by clone.
func (e *Entity) CloneFields() []*Field {
	return e.sets.clone
}

// ListFields returns the fields shown in list views.
func (e *Entity) ListFields() []*Field {
	return e.sets.list
}

// ClientFields returns every field exposed to clients, excluding
// sys-marked ones regardless of their other flags.
func (e *Entity) ClientFields() []*Field {
	return e.sets.client
}

// PropertyFields returns the fields projected into read responses,
// excluding sys and secure ones.
func (e *Entity) PropertyFields() []*Field {
	return e.sets.property
}
