package router

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/armature-dev/armature/engine"
	"github.com/armature-dev/armature/hooks"
	"github.com/armature-dev/armature/internal/web/auth"
	"github.com/armature-dev/armature/internal/web/middleware"
	"github.com/armature-dev/armature/internal/web/response"
	"github.com/armature-dev/armature/store"
)

// UsersConfig designates the collection credentials are checked
// against. The login handler reads it directly from the store because
// secret fields never survive engine projection.
type UsersConfig struct {
	Store       store.Store
	Collection  string // default "users"
	LoginField  string // default "login"
	SecretField string // default "password"
	NameField   string // default "name"
	RoleField   string // default "role"
}

func (u UsersConfig) withDefaults() UsersConfig {
	if u.Collection == "" {
		u.Collection = "users"
	}
	if u.LoginField == "" {
		u.LoginField = "login"
	}
	if u.SecretField == "" {
		u.SecretField = "password"
	}
	if u.NameField == "" {
		u.NameField = "name"
	}
	if u.RoleField == "" {
		u.RoleField = "role"
	}
	return u
}

// dummyHash keeps a failed login's bcrypt cost identical whether the
// login exists or not.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type login struct {
	auth  *auth.Service
	users UsersConfig
	log   *zap.Logger
}

func (l *login) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		response.RenderBadRequest(w, "invalid request body")
		return
	}
	if req.Login == "" || req.Password == "" {
		response.RenderCode(w, engine.CodeNoParams, "login and password required")
		return
	}

	actor, ok := l.verify(r.Context(), req.Login, req.Password)
	if !ok {
		response.RenderCode(w, engine.CodeNoSession, "invalid credentials")
		return
	}

	token, err := l.auth.Login(r.Context(), actor)
	if err != nil {
		l.log.Error("issuing token failed", zap.Error(err))
		response.RenderCode(w, engine.CodeError, "login failed")
		return
	}

	response.RenderData(w, map[string]any{
		"token": token,
		"actor": map[string]string{"id": actor.ID, "name": actor.Name, "role": actor.Role},
	})
}

func (l *login) verify(ctx context.Context, loginName, password string) (hooks.Actor, bool) {
	filter := store.NewFilter().Eq(l.users.LoginField, loginName)
	recs, err := l.users.Store.Find(ctx, l.users.Collection, store.Query{Filter: filter, Limit: 2})
	if err != nil || len(recs) != 1 {
		auth.CheckPassword(password, dummyHash)
		return hooks.Actor{}, false
	}

	rec := recs[0]
	hash, _ := rec[l.users.SecretField].(string)
	if !auth.CheckPassword(password, hash) {
		return hooks.Actor{}, false
	}

	var actor hooks.Actor
	actor.ID, _ = rec[store.IDField].(string)
	actor.Name, _ = rec[l.users.NameField].(string)
	actor.Role, _ = rec[l.users.RoleField].(string)
	return actor, actor.ID != ""
}

func (l *login) logout(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		response.RenderCode(w, engine.CodeNoSession, "no session")
		return
	}
	if err := l.auth.Logout(r.Context(), parts[1]); err != nil {
		response.RenderCode(w, engine.CodeNoSession, "no session")
		return
	}
	response.RenderData(w, map[string]any{"ok": true})
}

func (l *login) me(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	if actor.Anonymous() {
		response.RenderCode(w, engine.CodeNoSession, "no session")
		return
	}
	response.RenderData(w, map[string]string{"id": actor.ID, "name": actor.Name, "role": actor.Role})
}
