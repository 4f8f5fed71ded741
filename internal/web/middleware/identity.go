package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/armature-dev/armature/engine"
	"github.com/armature-dev/armature/hooks"
	"github.com/armature-dev/armature/internal/web/auth"
	"github.com/armature-dev/armature/internal/web/response"
)

// ActorKey is the context key the authenticated actor travels under.
const ActorKey ContextKey = "actor"

// Identity resolves the Authorization bearer token into an actor on
// the request context. Requests without a token continue anonymously;
// the engine decides per collection whether that is enough.
func Identity(service *auth.Service) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				response.RenderCode(w, engine.CodeNoSession, "invalid authorization header")
				return
			}

			actor, err := service.Verify(r.Context(), parts[1])
			if err != nil {
				response.RenderCode(w, engine.CodeNoSession, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ActorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetActor extracts the authenticated actor from the context. The zero
// actor means the request is anonymous.
func GetActor(ctx context.Context) hooks.Actor {
	if actor, ok := ctx.Value(ActorKey).(hooks.Actor); ok {
		return actor
	}
	return hooks.Actor{}
}
