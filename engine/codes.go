// Package engine executes entity operations against a document store:
// permission gating, type conversion, reference resolution, the lifecycle
// hook chain, and cascade-aware deletes. Every operation returns a Result
// envelope; nothing panics across the operation boundary.
package engine

import "net/http"

// Code classifies an operation outcome. The numeric values are part of
// the response envelope and stay stable. Hooks may abort with codes
// outside this set; those surface to callers unchanged.
type Code int

const (
	CodeOK Code = iota
	CodeError
	CodeNoSession
	CodeNoRights
	CodeNoParams
	CodeNotFound
	CodeInvalidParams
	CodeDuplicate
	CodeHasRefs
	CodeRefNotFound
	CodeRefNotUnique
)

// String returns the string representation of the code
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeError:
		return "error"
	case CodeNoSession:
		return "no_session"
	case CodeNoRights:
		return "no_rights"
	case CodeNoParams:
		return "no_params"
	case CodeNotFound:
		return "not_found"
	case CodeInvalidParams:
		return "invalid_params"
	case CodeDuplicate:
		return "duplicate_unique"
	case CodeHasRefs:
		return "has_ref"
	case CodeRefNotFound:
		return "ref_not_found"
	case CodeRefNotUnique:
		return "ref_not_unique"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a code to its HTTP status. Codes outside the known set
// double as the status when they fall in the valid range, so a hook abort
// of 422 renders as both envelope code and status 422.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeOK:
		return http.StatusOK
	case CodeError:
		return http.StatusInternalServerError
	case CodeNoSession:
		return http.StatusUnauthorized
	case CodeNoRights:
		return http.StatusForbidden
	case CodeNoParams:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidParams:
		return http.StatusUnprocessableEntity
	case CodeDuplicate:
		return http.StatusConflict
	case CodeHasRefs:
		return http.StatusConflict
	case CodeRefNotFound:
		return http.StatusUnprocessableEntity
	case CodeRefNotUnique:
		return http.StatusUnprocessableEntity
	}
	if c >= 100 && c < 600 {
		return int(c)
	}
	return http.StatusInternalServerError
}
