package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateProject inserts a project and registers the owner as its first
// collaborator in the same transaction, so the owner can always join
// their own room.
func (p *Postgres) CreateProject(ctx context.Context, name, ownerID string) (Project, error) {
	if name == "" {
		return Project{}, errors.New("missing project name")
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Project{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO projects (name, owner_id)
		VALUES ($1, $2)
		RETURNING id, name, owner_id, created_at, updated_at
	`, name, ownerID)

	var pr Project
	if err := row.Scan(&pr.ID, &pr.Name, &pr.OwnerID, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
		return Project{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO collaborators (project_id, user_id)
		VALUES ($1, $2)
	`, pr.ID, ownerID); err != nil {
		return Project{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Project{}, err
	}
	return pr, nil
}

// ListProjects returns the projects the user collaborates on, most
// recently updated first.
func (p *Postgres) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT pr.id, pr.name, pr.owner_id, pr.created_at, pr.updated_at
		FROM projects pr
		JOIN collaborators c ON c.project_id = pr.id
		WHERE c.user_id = $1
		ORDER BY pr.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var pr Project
		if err := rows.Scan(&pr.ID, &pr.Name, &pr.OwnerID, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// GetProject fetches a project by id.
func (p *Postgres) GetProject(ctx context.Context, id string) (Project, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, created_at, updated_at
		FROM projects
		WHERE id = $1
	`, id)

	var pr Project
	if err := row.Scan(&pr.ID, &pr.Name, &pr.OwnerID, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, err
	}
	return pr, nil
}

// AddCollaborator grants a user access to a project's room by email.
// Only the project owner may grant access.
func (p *Postgres) AddCollaborator(ctx context.Context, projectID, ownerID, email string) error {
	pr, err := p.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if pr.OwnerID != ownerID {
		return errors.New("only the owner can add collaborators")
	}

	u, _, err := p.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("lookup collaborator: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO collaborators (project_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, projectID, u.ID)
	return err
}

// IsCollaborator reports whether the subject may join the project's
// room. This is the authorization gate consulted on every join.
func (p *Postgres) IsCollaborator(ctx context.Context, projectID, subjectID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM collaborators
			WHERE project_id = $1 AND user_id = $2
		)
	`, projectID, subjectID).Scan(&exists)
	return exists, err
}
