package engine

import (
	"fmt"

	"github.com/armature-dev/armature/hooks"
)

// Result is the envelope every operation returns. Data is set on
// success, Err on failure; Fields pins validation failures to
// attributes.
type Result struct {
	Code   Code               `json:"code"`
	Data   any                `json:"data,omitempty"`
	Err    string             `json:"err,omitempty"`
	Fields []hooks.FieldError `json:"fields,omitempty"`
}

// OK reports whether the result is a success.
func (r *Result) OK() bool {
	return r.Code == CodeOK
}

func ok(data any) *Result {
	return &Result{Code: CodeOK, Data: data}
}

func fail(code Code, format string, args ...any) *Result {
	return &Result{Code: code, Err: fmt.Sprintf(format, args...)}
}

func failFields(code Code, msg string, fields []hooks.FieldError) *Result {
	return &Result{Code: code, Err: msg, Fields: fields}
}

// fromHook converts an aborting hook result into the response envelope
// without reinterpreting it: the caller sees exactly the code and error
// the hook returned.
func fromHook(hr *hooks.Result) *Result {
	return &Result{Code: Code(hr.Code), Err: hr.Err, Fields: hr.Fields}
}

// fromHandlerErr converts a custom operation handler failure. A
// *hooks.Result error surfaces verbatim; anything else is an internal
// error.
func fromHandlerErr(err error) *Result {
	if hr, isResult := err.(*hooks.Result); isResult {
		return fromHook(hr)
	}
	return fail(CodeError, "operation failed")
}
