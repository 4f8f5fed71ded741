package router

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/armature-dev/armature/engine"
	"github.com/armature-dev/armature/hooks"
	"github.com/armature-dev/armature/internal/web/cache"
	"github.com/armature-dev/armature/internal/web/middleware"
	"github.com/armature-dev/armature/internal/web/response"
	"github.com/armature-dev/armature/meta"
	"github.com/armature-dev/armature/store"
)

// api holds the per-collection operation handlers.
type api struct {
	engine *engine.Engine
	cache  cache.Cache
	ttl    time.Duration
	log    *zap.Logger
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	response.RenderData(w, map[string]any{"status": "ok"})
}

func (a *api) list(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	actor := middleware.GetActor(r.Context())

	params, err := parseListParams(r.URL.Query())
	if err != nil {
		response.RenderCode(w, engine.CodeInvalidParams, err.Error())
		return
	}

	key := cache.ListKey(collection, a.signature(r, actor))
	if a.serveCached(w, r, key) {
		return
	}
	a.render(w, r, key, a.engine.List(r.Context(), actor, collection, params))
}

func (a *api) get(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	actor := middleware.GetActor(r.Context())

	key := cache.RecordKey(collection, id+actorSuffix(actor))
	if a.serveCached(w, r, key) {
		return
	}
	a.render(w, r, key, a.engine.Get(r.Context(), actor, collection, id))
}

func (a *api) create(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	input, err := decodeBody(r)
	if err != nil {
		response.RenderBadRequest(w, "invalid request body")
		return
	}
	response.Render(w, a.engine.Create(r.Context(), middleware.GetActor(r.Context()), collection, input))
}

func (a *api) update(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	patch, err := decodeBody(r)
	if err != nil {
		response.RenderBadRequest(w, "invalid request body")
		return
	}
	response.Render(w, a.engine.Update(r.Context(), middleware.GetActor(r.Context()), collection, id, patch))
}

func (a *api) del(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	response.Render(w, a.engine.Delete(r.Context(), middleware.GetActor(r.Context()), collection, id))
}

func (a *api) clone(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	overrides, err := decodeBody(r)
	if err != nil {
		response.RenderBadRequest(w, "invalid request body")
		return
	}
	response.Render(w, a.engine.Clone(r.Context(), middleware.GetActor(r.Context()), collection, id, overrides))
}

func (a *api) batchUpdate(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	var req struct {
		IDs   []string     `json:"ids"`
		Patch store.Record `json:"patch"`
	}
	if err := decodeJSON(r, &req); err != nil {
		response.RenderBadRequest(w, "invalid request body")
		return
	}
	response.Render(w, a.engine.BatchUpdate(r.Context(), middleware.GetActor(r.Context()), collection, req.IDs, req.Patch))
}

func (a *api) importRows(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	var req struct {
		Rows []store.Record `json:"rows"`
	}
	if err := decodeJSON(r, &req); err != nil {
		response.RenderBadRequest(w, "invalid request body")
		return
	}
	response.Render(w, a.engine.Import(r.Context(), middleware.GetActor(r.Context()), collection, req.Rows))
}

func (a *api) export(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	params, err := parseListParams(r.URL.Query())
	if err != nil {
		response.RenderCode(w, engine.CodeInvalidParams, err.Error())
		return
	}
	response.Render(w, a.engine.Export(r.Context(), middleware.GetActor(r.Context()), collection, params))
}

func (a *api) refOptions(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	response.Render(w, a.engine.RefOptions(r.Context(), middleware.GetActor(r.Context()), collection, q.Get("field"), q.Get("q"), limit))
}

func (a *api) mode(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	actor := middleware.GetActor(r.Context())

	m, res := a.engine.EffectiveMode(actor, collection, r.URL.Query().Get("declared"))
	if res != nil {
		response.Render(w, res)
		return
	}
	response.RenderData(w, map[string]any{"collection": collection, "mode": m.String()})
}

// fieldMeta is the per-field shape of the meta endpoint. The set
// booleans reflect the derived visibility sets, so a link field reports
// create false no matter what its flags say.
type fieldMeta struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
	Default  any    `json:"default,omitempty"`
	Ref      string `json:"ref,omitempty"`
	Link     string `json:"link,omitempty"`
	Form     string `json:"form,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	Create   bool   `json:"create"`
	Update   bool   `json:"update"`
	Search   bool   `json:"search"`
	List     bool   `json:"list"`
}

func (a *api) meta(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	actor := middleware.GetActor(r.Context())

	mode, res := a.engine.EffectiveMode(actor, collection, r.URL.Query().Get("declared"))
	if res != nil {
		response.Render(w, res)
		return
	}
	e, err := a.engine.Registry().Lookup(collection)
	if err != nil {
		response.RenderCode(w, engine.CodeNotFound, "unknown collection "+collection)
		return
	}

	inCreate := fieldNameSet(e.CreateFields())
	inUpdate := fieldNameSet(e.UpdateFields())
	inSearch := fieldNameSet(e.SearchFields())
	inList := fieldNameSet(e.ListFields())

	fields := make([]fieldMeta, 0, len(e.ClientFields()))
	for _, f := range e.ClientFields() {
		fields = append(fields, fieldMeta{
			Name:     f.Name,
			Type:     f.Type,
			Required: f.Required,
			Default:  f.Default,
			Ref:      f.Ref,
			Link:     f.Link,
			Form:     f.Form,
			Secure:   f.Secure,
			Create:   inCreate[f.Name],
			Update:   inUpdate[f.Name],
			Search:   inSearch[f.Name],
			List:     inList[f.Name],
		})
	}

	response.RenderData(w, map[string]any{
		"collection": e.Name,
		"mode":       mode.String(),
		"auth":       e.Auth,
		"label":      e.RefLabel,
		"fields":     fields,
	})
}

func fieldNameSet(fields []*meta.Field) map[string]bool {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f.Name] = true
	}
	return set
}

// signature builds the cache signature for a list request. The actor is
// part of it because list-query hooks narrow per caller.
func (a *api) signature(r *http.Request, actor hooks.Actor) string {
	values := r.URL.Query()
	if !actor.Anonymous() {
		values.Set("@actor", actor.ID+":"+actor.Role)
	}
	return cache.QuerySignature(values)
}

func actorSuffix(actor hooks.Actor) string {
	if actor.Anonymous() {
		return ""
	}
	return "@" + actor.ID + ":" + actor.Role
}

// serveCached writes a cached response when one exists. Only successful
// responses are ever cached, so hits always carry status 200.
func (a *api) serveCached(w http.ResponseWriter, r *http.Request, key string) bool {
	if a.cache == nil {
		return false
	}
	payload, err := a.cache.Get(r.Context(), key)
	if err != nil {
		return false
	}
	writeJSON(w, http.StatusOK, payload)
	return true
}

// render writes the result, caching it under key when it succeeded.
func (a *api) render(w http.ResponseWriter, r *http.Request, key string, res *engine.Result) {
	if a.cache != nil && res.Code == engine.CodeOK {
		if payload, err := json.Marshal(res); err == nil {
			if err := a.cache.Set(r.Context(), key, payload, a.ttl); err != nil {
				a.log.Warn("caching response failed", zap.String("key", key), zap.Error(err))
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}
	response.Render(w, res)
}

func writeJSON(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(payload)
}
