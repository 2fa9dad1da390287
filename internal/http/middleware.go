package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"muse-sync/internal/app"
	"muse-sync/pkg/auth"
	"muse-sync/pkg/ratelimit"
)

type Middleware struct {
	cors   *cors.Cors
	auth   *auth.JWT
	rlimit *ratelimit.Limiter
}

// NewMiddleware builds the shared middleware stack from config.
func NewMiddleware(cfg app.Config, j *auth.JWT) *Middleware {
	return &Middleware{
		cors: cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllow,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}),
		auth:   j,
		rlimit: ratelimit.New(60, time.Minute),
	}
}

// Wrap applies CORS + rate limiting to a handler.
func (m *Middleware) Wrap(h http.Handler) http.Handler {
	return m.cors.Handler(m.rlimit.Middleware(h))
}

// Auth enforces JWT auth and stores the verified identity in the
// request context.
func (m *Middleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := r.Header.Get("Authorization")
		if !strings.HasPrefix(b, "Bearer ") {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		id, err := m.auth.Verify(r.Context(), strings.TrimPrefix(b, "Bearer "))
		if err != nil {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}
