package httpx

import (
	"log/slog"
	"net/http"

	"muse-sync/internal/app"
	"muse-sync/internal/store"
	"muse-sync/internal/ws"
	"muse-sync/pkg/auth"
	"muse-sync/pkg/metrics"
)

// NewRouter wires up all HTTP routes, middleware, and handlers.
func NewRouter(cfg app.Config, logger *slog.Logger, hub *ws.Hub, db *store.Postgres) http.Handler {
	j := auth.New(cfg.JWTSecret)
	mw := NewMiddleware(cfg, j)
	authAPI := &AuthAPI{DB: db, JWT: j}
	projAPI := &ProjectsAPI{DB: db, Log: logger}

	mux := http.NewServeMux()

	// Health / readiness / metrics
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }))
	mux.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }))
	mux.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint; the hub does its own handshake auth.
	mux.Handle("/ws", http.HandlerFunc(hub.ServeWS))

	// Auth endpoints
	mux.Handle("/api/auth/register", http.HandlerFunc(authAPI.Register))
	mux.Handle("/api/auth/login", http.HandlerFunc(authAPI.Login))
	mux.Handle("/api/auth/me", mw.Auth(http.HandlerFunc(authAPI.Me)))

	// Project endpoints (JWT-protected)
	mux.Handle("/api/projects", mw.Auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			projAPI.Create(w, r)
		case http.MethodGet:
			projAPI.List(w, r)
		default:
			http.NotFound(w, r)
		}
	})))
	mux.Handle("POST /api/projects/{id}/collaborators", mw.Auth(http.HandlerFunc(projAPI.AddCollaborator)))

	// CORS + rate limit applied globally
	return mw.Wrap(mux)
}
