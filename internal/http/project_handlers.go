package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"muse-sync/internal/store"
	"muse-sync/pkg/auth"
)

type ProjectsAPI struct {
	DB  *store.Postgres
	Log *slog.Logger
}

type createProjectReq struct {
	Name string `json:"name"`
}

type addCollaboratorReq struct {
	Email string `json:"email"`
}

type projectResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Create handles new project creation for the authenticated user. The
// creator becomes the first collaborator, so their room joins succeed
// immediately.
func (a *ProjectsAPI) Create(w http.ResponseWriter, r *http.Request) {
	var req createProjectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	id, _ := auth.From(r.Context())
	pr, err := a.DB.CreateProject(r.Context(), req.Name, id.SubjectID)
	if err != nil {
		a.Log.Error("project.create", "err", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, projectResponse{ID: pr.ID, Name: pr.Name, OwnerID: pr.OwnerID, UpdatedAt: pr.UpdatedAt})
}

// List returns the projects the user collaborates on.
func (a *ProjectsAPI) List(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.From(r.Context())
	projects, err := a.DB.ListProjects(r.Context(), id.SubjectID)
	if err != nil {
		a.Log.Error("project.list", "err", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}

	resp := make([]projectResponse, 0, len(projects))
	for _, pr := range projects {
		resp = append(resp, projectResponse{ID: pr.ID, Name: pr.Name, OwnerID: pr.OwnerID, UpdatedAt: pr.UpdatedAt})
	}
	writeJSON(w, resp)
}

// AddCollaborator grants another user access to the project's room.
// Owner-only.
func (a *ProjectsAPI) AddCollaborator(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if projectID == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	var req addCollaboratorReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	id, _ := auth.From(r.Context())
	if err := a.DB.AddCollaborator(r.Context(), projectID, id.SubjectID, req.Email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
