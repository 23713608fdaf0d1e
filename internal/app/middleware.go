package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/klokku/hangouts/pkg/user"
	log "github.com/sirupsen/logrus"
)

// SetupMiddleware wires all HTTP middlewares for the application.
func SetupMiddleware(r *mux.Router) {

	// Propagate X-User-Id header into context for downstream services.
	// The header is set by the authenticating proxy in front of this service.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			if userId := req.Header.Get("X-User-Id"); userId != "" {
				log.Tracef("request %s %s by user %s", req.Method, req.URL.Path, userId)
				ctx = user.WithId(ctx, userId)
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
}
