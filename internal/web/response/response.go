// Package response renders engine result envelopes as HTTP responses.
// The envelope shape is identical for success and failure; the HTTP
// status derives from the envelope code.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/armature-dev/armature/engine"
)

const contentType = "application/json; charset=utf-8"

// Render writes a result envelope with the status its code maps to.
func Render(w http.ResponseWriter, res *engine.Result) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(res.Code.HTTPStatus())
	json.NewEncoder(w).Encode(res)
}

// RenderData writes a success envelope around data.
func RenderData(w http.ResponseWriter, data any) {
	Render(w, &engine.Result{Code: engine.CodeOK, Data: data})
}

// RenderCode writes a failure envelope with the given code and message.
func RenderCode(w http.ResponseWriter, code engine.Code, msg string) {
	Render(w, &engine.Result{Code: code, Err: msg})
}

// RenderBadRequest writes a no-params failure, used when a request body
// or parameter cannot be read at all.
func RenderBadRequest(w http.ResponseWriter, msg string) {
	RenderCode(w, engine.CodeNoParams, msg)
}
