package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"docpipe/internal/domain"
	"docpipe/internal/port"
)

type fileRepo struct {
	db *sqlx.DB
}

// NewFileRepo creates a new PostgreSQL-backed FileRepository.
func NewFileRepo(db *sqlx.DB) port.FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Create(ctx context.Context, f *domain.File) error {
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	if f.ParseState == "" {
		f.ParseState = domain.ParseStatePending
	}

	query := `INSERT INTO files (
		name, content_hash, size, page_count, pdf_hash, parse_hash, docx_hash,
		attached_schemas, owner, project_id, tree_id, task_kind, scenario,
		priority, meta, source_origin, deleted, parse_state, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8, $9, $10, $11, $12, $13,
		$14, $15, $16, $17, $18, $19, $20
	) RETURNING id`

	err := r.db.QueryRowxContext(ctx, query,
		f.Name, f.ContentHash, f.Size, f.PageCount, f.PDFHash, f.ParseHash, f.DocxHash,
		f.AttachedSchemas, f.Owner, f.ProjectID, f.TreeID, f.TaskKind, f.Scenario,
		f.Priority, f.Meta, f.SourceOrigin, f.Deleted, f.ParseState, f.CreatedAt, f.UpdatedAt,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("fileRepo.Create: %w", err)
	}
	return nil
}

func (r *fileRepo) GetByID(ctx context.Context, id int64) (*domain.File, error) {
	var f domain.File
	err := r.db.GetContext(ctx, &f, "SELECT * FROM files WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("fileRepo.GetByID: %w", err)
	}
	return &f, nil
}

// mutate loads the row FOR UPDATE, lets fn change it in memory and writes the
// mutable columns back, all inside one short transaction.
func (r *fileRepo) mutate(ctx context.Context, id int64, op string, fn func(f *domain.File) error) (*domain.File, error) {
	var out domain.File
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &out, "SELECT * FROM files WHERE id = $1 FOR UPDATE", id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("fileRepo.%s select: %w", op, err)
		}
		if err := fn(&out); err != nil {
			return err
		}
		out.UpdatedAt = time.Now().UTC()
		_, err := tx.ExecContext(ctx,
			`UPDATE files SET page_count = $2, pdf_hash = $3, parse_hash = $4, docx_hash = $5,
			 attached_schemas = $6, meta = $7, parse_state = $8, deleted = $9, updated_at = $10
			 WHERE id = $1`,
			id, out.PageCount, out.PDFHash, out.ParseHash, out.DocxHash,
			out.AttachedSchemas, out.Meta, out.ParseState, out.Deleted, out.UpdatedAt)
		if err != nil {
			return fmt.Errorf("fileRepo.%s update: %w", op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *fileRepo) UpdateArtifacts(ctx context.Context, id int64, upd domain.ArtifactUpdate) error {
	_, err := r.mutate(ctx, id, "UpdateArtifacts", func(f *domain.File) error {
		f.Apply(upd)
		return nil
	})
	return err
}

func (r *fileRepo) Transition(ctx context.Context, id int64, t port.Transition) (*domain.File, error) {
	return r.mutate(ctx, id, "Transition", func(f *domain.File) error {
		return t.Apply(f)
	})
}

func (r *fileRepo) AttachSchemas(ctx context.Context, id int64, schemaIDs []int64) (domain.Int64List, error) {
	f, err := r.mutate(ctx, id, "AttachSchemas", func(f *domain.File) error {
		for _, sid := range schemaIDs {
			if !f.AttachedSchemas.Contains(sid) {
				f.AttachedSchemas = append(f.AttachedSchemas, sid)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f.AttachedSchemas, nil
}

func (r *fileRepo) DetachSchemas(ctx context.Context, id int64, schemaIDs []int64) (domain.Int64List, error) {
	drop := make(map[int64]bool, len(schemaIDs))
	for _, sid := range schemaIDs {
		drop[sid] = true
	}
	f, err := r.mutate(ctx, id, "DetachSchemas", func(f *domain.File) error {
		kept := make(domain.Int64List, 0, len(f.AttachedSchemas))
		for _, sid := range f.AttachedSchemas {
			if !drop[sid] {
				kept = append(kept, sid)
			}
		}
		f.AttachedSchemas = kept
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f.AttachedSchemas, nil
}

func (r *fileRepo) SoftDelete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE files SET deleted = TRUE, updated_at = $2 WHERE id = $1", id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("fileRepo.SoftDelete: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *fileRepo) FindByHash(ctx context.Context, contentHash string, excludeID int64) (*domain.File, error) {
	var f domain.File
	err := r.db.GetContext(ctx, &f,
		`SELECT * FROM files
		 WHERE content_hash = $1 AND id <> $2 AND deleted = FALSE AND parse_hash <> ''
		 ORDER BY updated_at DESC LIMIT 1`,
		contentHash, excludeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("fileRepo.FindByHash: %w", err)
	}
	return &f, nil
}

func (r *fileRepo) ListSiblingsAwaitingParse(ctx context.Context, contentHash string, excludeID int64) ([]domain.File, error) {
	var files []domain.File
	err := r.db.SelectContext(ctx, &files,
		`SELECT * FROM files
		 WHERE content_hash = $1 AND id <> $2 AND deleted = FALSE AND parse_hash = ''
		 ORDER BY id`,
		contentHash, excludeID)
	if err != nil {
		return nil, fmt.Errorf("fileRepo.ListSiblingsAwaitingParse: %w", err)
	}
	return files, nil
}

// ListByState returns live files in states ordered by (priority, id). A
// limit <= 0 means no limit.
func (r *fileRepo) ListByState(ctx context.Context, states []domain.ParseState, limit int) ([]domain.File, error) {
	query, args, err := listByStateQuery(states, limit)
	if err != nil {
		return nil, fmt.Errorf("fileRepo.ListByState build: %w", err)
	}
	var files []domain.File
	if err := r.db.SelectContext(ctx, &files, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("fileRepo.ListByState: %w", err)
	}
	return files, nil
}

func listByStateQuery(states []domain.ParseState, limit int) (string, []interface{}, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	query := `SELECT * FROM files WHERE parse_state IN (?) AND deleted = FALSE ORDER BY priority, id`
	if limit <= 0 {
		return sqlx.In(query, names)
	}
	return sqlx.In(query+` LIMIT ?`, names, limit)
}

func (r *fileRepo) ListStuck(ctx context.Context, state domain.ParseState, updatedBefore time.Time) ([]domain.File, error) {
	var files []domain.File
	err := r.db.SelectContext(ctx, &files,
		`SELECT * FROM files WHERE parse_state = $1 AND updated_at < $2 AND deleted = FALSE ORDER BY id`,
		state, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("fileRepo.ListStuck: %w", err)
	}
	return files, nil
}

func (r *fileRepo) ListIDsByProject(ctx context.Context, projectID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		"SELECT id FROM files WHERE project_id = $1 AND deleted = FALSE ORDER BY id", projectID)
	if err != nil {
		return nil, fmt.Errorf("fileRepo.ListIDsByProject: %w", err)
	}
	return ids, nil
}

func (r *fileRepo) NameExists(ctx context.Context, projectID int64, name string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM files WHERE project_id = $1 AND name = $2 AND deleted = FALSE)",
		projectID, name)
	if err != nil {
		return false, fmt.Errorf("fileRepo.NameExists: %w", err)
	}
	return exists, nil
}
