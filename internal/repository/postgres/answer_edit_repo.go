package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"docpipe/internal/domain"
	"docpipe/internal/port"
)

type answerEditRepo struct {
	db *sqlx.DB
}

// NewAnswerEditRepo creates a new PostgreSQL-backed AnswerEditRepository.
func NewAnswerEditRepo(db *sqlx.DB) port.AnswerEditRepository {
	return &answerEditRepo{db: db}
}

func (r *answerEditRepo) Create(ctx context.Context, e *domain.AnswerEdit) error {
	e.CreatedAt = time.Now().UTC()
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO answer_edits (file_id, schema_id, key, value, rows, user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		e.FileID, e.SchemaID, e.Key, e.Value, e.Rows, e.UserID, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("answerEditRepo.Create: %w", err)
	}
	return nil
}

func (r *answerEditRepo) ListFor(ctx context.Context, fileID, schemaID int64) ([]domain.AnswerEdit, error) {
	var edits []domain.AnswerEdit
	err := r.db.SelectContext(ctx, &edits,
		"SELECT * FROM answer_edits WHERE file_id = $1 AND schema_id = $2 ORDER BY created_at, id",
		fileID, schemaID)
	if err != nil {
		return nil, fmt.Errorf("answerEditRepo.ListFor: %w", err)
	}
	return edits, nil
}

func (r *answerEditRepo) DeleteFor(ctx context.Context, fileID, schemaID int64) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM answer_edits WHERE file_id = $1 AND schema_id = $2", fileID, schemaID)
	if err != nil {
		return fmt.Errorf("answerEditRepo.DeleteFor: %w", err)
	}
	return nil
}
