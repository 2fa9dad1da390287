package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"muse-sync/internal/store"
	"muse-sync/pkg/auth"
)

type AuthAPI struct {
	DB  *store.Postgres
	JWT *auth.JWT
}

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResp struct {
	Token string      `json:"token"`
	User  authUserDTO `json:"user"`
}

type authUserDTO struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Register handles user signup and returns a JWT.
func (a *AuthAPI) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if len(req.Password) < 8 || !strings.Contains(req.Email, "@") {
		http.Error(w, "invalid email or weak password", http.StatusBadRequest)
		return
	}

	u, err := a.DB.CreateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		http.Error(w, "email already in use", http.StatusConflict)
		return
	}
	a.issue(w, u)
}

// Login verifies credentials and returns a JWT.
func (a *AuthAPI) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	u, err := a.DB.VerifyUser(r.Context(), req.Email, req.Password)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	a.issue(w, u)
}

// Me returns the authenticated identity.
func (a *AuthAPI) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.From(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, authUserDTO{ID: id.SubjectID, Email: id.Email})
}

// issue signs a 24h token carrying the subject and email claims the
// websocket handshake verifies later.
func (a *AuthAPI) issue(w http.ResponseWriter, u store.User) {
	tok, err := a.JWT.Sign(auth.Identity{SubjectID: u.ID, Email: u.Email}, 24*time.Hour)
	if err != nil {
		http.Error(w, "token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, tokenResp{Token: tok, User: authUserDTO{ID: u.ID, Email: u.Email}})
}

// writeJSON sends v with proper headers.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
