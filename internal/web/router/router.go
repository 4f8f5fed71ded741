// Package router mounts the REST surface over an engine: per-collection
// CRUD plus the clone, batch, import, export, ref, meta, and mode
// endpoints, the login endpoints, the websocket change feed, a
// generated OpenAPI document, and a health check.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/armature-dev/armature/engine"
	"github.com/armature-dev/armature/internal/openapi"
	"github.com/armature-dev/armature/internal/web/auth"
	"github.com/armature-dev/armature/internal/web/cache"
	"github.com/armature-dev/armature/internal/web/feed"
	"github.com/armature-dev/armature/internal/web/middleware"
	"github.com/armature-dev/armature/internal/web/ratelimit"
)

// Config wires the router's collaborators. Engine is required; every
// other field is optional and disables its surface when zero.
type Config struct {
	Engine *engine.Engine
	Log    *zap.Logger

	// Auth enables the login endpoints and bearer identity resolution.
	Auth  *auth.Service
	Users UsersConfig

	// Cache enables response caching for list and read requests.
	Cache    cache.Cache
	CacheTTL time.Duration

	// Feed mounts the websocket change feed at /ws.
	Feed *feed.Hub

	// CORS overrides the default permissive policy.
	CORS *middleware.CORSConfig

	// RateLimit bounds request rates per client IP.
	RateLimit ratelimit.Limiter

	// Timeout bounds each request's context when positive.
	Timeout time.Duration

	// Docs titles the OpenAPI document served at /api/openapi.json.
	// Nil keeps the defaults.
	Docs *openapi.Info
}

// New builds the HTTP handler. The static routes take precedence over
// collections named "login", "logout", "me", or "openapi.json".
func New(config Config) http.Handler {
	log := config.Log
	if log == nil {
		log = zap.NewNop()
	}

	a := &api{
		engine: config.Engine,
		cache:  config.Cache,
		ttl:    config.CacheTTL,
		log:    log,
	}

	corsConfig := middleware.DefaultCORSConfig()
	if config.CORS != nil {
		corsConfig = *config.CORS
	}

	chain := middleware.NewChain(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logging(log),
		middleware.CORS(corsConfig),
	)
	if config.RateLimit != nil {
		chain.Use(ratelimit.Middleware(config.RateLimit, log))
	}
	if config.Timeout > 0 {
		chain.Use(middleware.Timeout(config.Timeout))
	}
	if config.Auth != nil {
		chain.Use(middleware.Identity(config.Auth))
	}

	r := chi.NewRouter()

	r.Get("/healthz", a.health)

	if config.Auth != nil {
		l := &login{auth: config.Auth, users: config.Users.withDefaults(), log: log}
		r.Post("/api/login", l.login)
		r.Post("/api/logout", l.logout)
		r.Get("/api/me", l.me)
	}

	if config.Feed != nil {
		r.Get("/ws", config.Feed.Handler())
	}

	docs := openapi.Info{}
	if config.Docs != nil {
		docs = *config.Docs
	}
	r.Get("/api/openapi.json", openapi.Handler(config.Engine.Registry(), docs))

	r.Route("/api/{collection}", func(r chi.Router) {
		r.Get("/", a.list)
		r.Post("/", a.create)
		r.Get("/export", a.export)
		r.Post("/import", a.importRows)
		r.Post("/batch", a.batchUpdate)
		r.Get("/meta", a.meta)
		r.Get("/mode", a.mode)
		r.Get("/ref", a.refOptions)
		r.Get("/{id}", a.get)
		r.Put("/{id}", a.update)
		r.Patch("/{id}", a.update)
		r.Delete("/{id}", a.del)
		r.Post("/{id}/clone", a.clone)
	})

	return chain.Then(r)
}
