// Package hooks defines the lifecycle callback surface of the engine.
// Every operation kind carries its own context struct with named fields,
// so a callback can never confuse an id for a payload. Before hooks may
// mutate their context and abort the operation with a Result; after hooks
// run once the write has committed and can no longer affect it.
package hooks

import (
	"context"

	"github.com/armature-dev/armature/store"
)

// Actor identifies the authenticated caller an operation runs for.
// The zero value is an anonymous caller.
type Actor struct {
	ID   string
	Name string
	Role string
}

// Anonymous reports whether the actor carries no identity.
func (a Actor) Anonymous() bool {
	return a.ID == ""
}

// FieldError is a validation failure pinned to one attribute.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the value a before hook returns to abort an operation: the
// code and error surface to the caller exactly as given. A nil Result
// means proceed. Result implements error so custom operation handlers can
// return one through an error value.
type Result struct {
	Code   int
	Err    string
	Fields []FieldError
}

// Error implements the error interface.
func (r *Result) Error() string {
	return r.Err
}

// Fail builds an aborting result.
func Fail(code int, err string) *Result {
	return &Result{Code: code, Err: err}
}

// Kind names a hook slot, used in log output.
type Kind int

const (
	KindBeforeCreate Kind = iota
	KindAfterCreate
	KindBeforeUpdate
	KindAfterUpdate
	KindBeforeDelete
	KindAfterDelete
	KindBeforeClone
	KindAfterClone
	KindListQuery
	KindAfterRead
)

// String returns the string representation of the hook kind
func (k Kind) String() string {
	switch k {
	case KindBeforeCreate:
		return "before_create"
	case KindAfterCreate:
		return "after_create"
	case KindBeforeUpdate:
		return "before_update"
	case KindAfterUpdate:
		return "after_update"
	case KindBeforeDelete:
		return "before_delete"
	case KindAfterDelete:
		return "after_delete"
	case KindBeforeClone:
		return "before_clone"
	case KindAfterClone:
		return "after_clone"
	case KindListQuery:
		return "list_query"
	case KindAfterRead:
		return "after_read"
	default:
		return "unknown"
	}
}

// CreateContext travels through the create pipeline. Before hooks see the
// draft record and may mutate it in place; after hooks see the record as
// persisted.
type CreateContext struct {
	Actor  Actor
	Record store.Record
}

// UpdateContext travels through the update pipeline. Before hooks may
// mutate Patch; Record holds the post-update state and is only set when
// after hooks run.
type UpdateContext struct {
	Actor  Actor
	ID     string
	Patch  store.Record
	Record store.Record
}

// DeleteContext travels through the delete pipeline. Record holds the
// state of the record about to be removed.
type DeleteContext struct {
	Actor  Actor
	ID     string
	Record store.Record
}

// CloneContext travels through the clone pipeline. Record starts as the
// copied draft (clone-eligible fields plus overrides) and becomes the
// persisted record for after hooks.
type CloneContext struct {
	Actor    Actor
	SourceID string
	Record   store.Record
}

// ListContext is handed to the list-query hook. Search is a copy of the
// caller's requested filter; the hook returns its own narrowing filter
// and never receives a handle to live query state.
type ListContext struct {
	Actor  Actor
	Search store.Filter
}

// ReadContext is handed to the after-read hook once per returned record.
type ReadContext struct {
	Actor  Actor
	Record store.Record
}

// Set bundles the optional callbacks of one collection. Any field may be
// nil. The Create/Update/Delete/Clone fields replace the default storage
// call; returning a *Result as the error surfaces it verbatim.
type Set struct {
	BeforeCreate func(ctx context.Context, c *CreateContext) *Result
	AfterCreate  func(ctx context.Context, c *CreateContext) error

	BeforeUpdate func(ctx context.Context, u *UpdateContext) *Result
	AfterUpdate  func(ctx context.Context, u *UpdateContext) error

	BeforeDelete func(ctx context.Context, d *DeleteContext) *Result
	AfterDelete  func(ctx context.Context, d *DeleteContext) error

	BeforeClone func(ctx context.Context, c *CloneContext) *Result
	AfterClone  func(ctx context.Context, c *CloneContext) error

	// ListQuery returns a fresh filter narrowing list reads for the
	// caller, or a non-nil Result to abort the list.
	ListQuery func(ctx context.Context, l *ListContext) (store.Filter, *Result)

	// AfterRead may return a replacement record; a nil record keeps the
	// original. Errors are logged and the record passes through.
	AfterRead func(ctx context.Context, r *ReadContext) (store.Record, error)

	Create func(ctx context.Context, c *CreateContext) (store.Record, error)
	Update func(ctx context.Context, u *UpdateContext) (store.Record, error)
	Delete func(ctx context.Context, d *DeleteContext) error
	Clone  func(ctx context.Context, c *CloneContext) (store.Record, error)
}
