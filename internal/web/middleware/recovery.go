package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/armature-dev/armature/engine"
	"github.com/armature-dev/armature/internal/web/response"
)

// Recovery turns a handler panic into a logged internal error response.
func Recovery(log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic recovered",
						zap.String("request_id", GetRequestID(r.Context())),
						zap.String("path", r.URL.Path),
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()),
					)
					response.RenderCode(w, engine.CodeError, "internal error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
