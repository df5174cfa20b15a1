package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"docpipe/internal/domain"
	"docpipe/internal/port"
)

type projectRepo struct {
	db *sqlx.DB
}

// NewProjectRepo creates a new PostgreSQL-backed ProjectRepository.
func NewProjectRepo(db *sqlx.DB) port.ProjectRepository {
	return &projectRepo{db: db}
}

func (r *projectRepo) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
	var p domain.Project
	err := r.db.GetContext(ctx, &p, "SELECT * FROM projects WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("projectRepo.GetProject: %w", err)
	}
	if p.Deleted {
		return nil, domain.ErrFileGone
	}
	return &p, nil
}

func (r *projectRepo) GetTree(ctx context.Context, id int64) (*domain.Tree, error) {
	var t domain.Tree
	err := r.db.GetContext(ctx, &t, "SELECT * FROM trees WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("projectRepo.GetTree: %w", err)
	}
	return &t, nil
}

// EnsureChildTree returns the folder name under parent, creating it when absent.
func (r *projectRepo) EnsureChildTree(ctx context.Context, parent *domain.Tree, name string) (*domain.Tree, error) {
	var t domain.Tree
	err := r.db.GetContext(ctx, &t,
		`INSERT INTO trees (project_id, parent_id, name) VALUES ($1, $2, $3)
		 ON CONFLICT (project_id, COALESCE(parent_id, 0), name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING *`,
		parent.ProjectID, parent.ID, name)
	if err != nil {
		return nil, fmt.Errorf("projectRepo.EnsureChildTree: %w", err)
	}
	return &t, nil
}

// SoftDelete marks the project and every file inside it deleted.
func (r *projectRepo) SoftDelete(ctx context.Context, id int64) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, "UPDATE projects SET deleted = TRUE WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("projectRepo.SoftDelete: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return domain.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE files SET deleted = TRUE, updated_at = NOW() WHERE project_id = $1", id); err != nil {
			return fmt.Errorf("projectRepo.SoftDelete files: %w", err)
		}
		return nil
	})
}
