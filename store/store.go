// Package store defines the document store abstraction the engine runs on:
// schemaless records addressed by collection and id, filtered finds, and
// typed sentinel errors. Implementations live in the memory and sqldoc
// subpackages.
package store

import (
	"context"
	"errors"
)

// IDField is the record attribute every store keys documents by.
const IDField = "id"

// Record is a single schemaless document as stored and transported.
// Values hold JSON-shaped data: string, float64, bool, nil, []any,
// map[string]any, plus whatever typed values field converters produce.
type Record = map[string]any

var (
	// ErrNotFound is returned when no record matches the given id.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateID is returned when inserting a record whose id already
	// exists in the collection.
	ErrDuplicateID = errors.New("duplicate record id")
)

// Store is the persistence contract. Implementations must be safe for
// concurrent use. Update applies only the given changes and returns the
// full resulting record; a nil change value clears the attribute.
type Store interface {
	Get(ctx context.Context, collection, id string) (Record, error)
	Find(ctx context.Context, collection string, q Query) ([]Record, error)
	Count(ctx context.Context, collection string, f Filter) (int, error)
	Insert(ctx context.Context, collection string, rec Record) error
	Update(ctx context.Context, collection, id string, changes Record) (Record, error)
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

// Clone returns a deep copy of a record so callers can mutate the result
// without aliasing stored state.
func Clone(rec Record) Record {
	if rec == nil {
		return nil
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(tv))
		copy(out, tv)
		return out
	default:
		return v
	}
}
