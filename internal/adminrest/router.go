package adminrest

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the admin API.
//
// Route layout:
//
//	GET /healthz             – liveness probe (no authentication required)
//	GET /api/v1/status       – aggregate session counters (JWT required if pubKey set)
//	GET /api/v1/sessions     – recently closed sessions
//	GET /api/v1/sessions/open – currently-open sessions (accepted, not yet closed)
//	GET /api/v1/catalog      – current ingestion catalog (empty if unconfigured)
//	GET /api/v1/audit        – verified authentication-failure audit chain (empty if unconfigured)
//
// pubKey guards every /api/v1 route with JWTMiddleware when non-nil, exactly
// the teacher's rest.NewRouter shape; pass nil to leave the admin API open,
// matching the agent/server protocol's own auth being a separate concern.
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}
		r.Get("/status", srv.handleGetStatus)
		r.Get("/sessions", srv.handleGetSessions)
		r.Get("/sessions/open", srv.handleGetOpenSessions)
		r.Get("/catalog", srv.handleGetCatalog)
		r.Get("/audit", srv.handleGetAudit)
	})

	return r
}
