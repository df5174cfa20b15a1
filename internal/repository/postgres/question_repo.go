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

type questionRepo struct {
	db *sqlx.DB
}

// NewQuestionRepo creates a new PostgreSQL-backed QuestionRepository.
func NewQuestionRepo(db *sqlx.DB) port.QuestionRepository {
	return &questionRepo{db: db}
}

func (r *questionRepo) CreateFor(ctx context.Context, fileID, schemaID int64) (*domain.Question, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO questions (file_id, schema_id, extract_state, llm_state, markers, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $3, '[]', $4, $5, $5)
		 ON CONFLICT (file_id, schema_id) DO NOTHING`,
		fileID, schemaID, domain.ExtractPending, domain.MarkPending, now)
	if err != nil {
		return nil, fmt.Errorf("questionRepo.CreateFor: %w", err)
	}
	return r.GetFor(ctx, fileID, schemaID)
}

func (r *questionRepo) DeleteFor(ctx context.Context, fileID, schemaID int64) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM questions WHERE file_id = $1 AND schema_id = $2", fileID, schemaID)
	if err != nil {
		return fmt.Errorf("questionRepo.DeleteFor: %w", err)
	}
	return nil
}

func (r *questionRepo) GetByID(ctx context.Context, id int64) (*domain.Question, error) {
	var q domain.Question
	err := r.db.GetContext(ctx, &q, "SELECT * FROM questions WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("questionRepo.GetByID: %w", err)
	}
	return &q, nil
}

func (r *questionRepo) GetFor(ctx context.Context, fileID, schemaID int64) (*domain.Question, error) {
	var q domain.Question
	err := r.db.GetContext(ctx, &q,
		"SELECT * FROM questions WHERE file_id = $1 AND schema_id = $2", fileID, schemaID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("questionRepo.GetFor: %w", err)
	}
	return &q, nil
}

func (r *questionRepo) ListByFile(ctx context.Context, fileID int64) ([]domain.Question, error) {
	var qs []domain.Question
	err := r.db.SelectContext(ctx, &qs,
		"SELECT * FROM questions WHERE file_id = $1 ORDER BY schema_id", fileID)
	if err != nil {
		return nil, fmt.Errorf("questionRepo.ListByFile: %w", err)
	}
	return qs, nil
}

func (r *questionRepo) Reset(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE questions SET answer = NULL, answer_preset = NULL,
		 extract_state = $2, llm_state = $2, updated_at = $3 WHERE id = $1`,
		id, domain.ExtractPending, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("questionRepo.Reset: %w", err)
	}
	return nil
}

func (r *questionRepo) SetAnswer(ctx context.Context, id int64, answer domain.Answer, origin domain.AnswerOrigin) error {
	column := "answer"
	if origin == domain.OriginPreset {
		column = "answer_preset"
	}
	query := fmt.Sprintf("UPDATE questions SET %s = $2, updated_at = $3 WHERE id = $1", column)
	if _, err := r.db.ExecContext(ctx, query, id, answer, time.Now().UTC()); err != nil {
		return fmt.Errorf("questionRepo.SetAnswer: %w", err)
	}
	return nil
}

func (r *questionRepo) SetState(ctx context.Context, id int64, state domain.ExtractState) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE questions SET extract_state = $2, updated_at = $3 WHERE id = $1",
		id, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("questionRepo.SetState: %w", err)
	}
	return nil
}

func (r *questionRepo) SetLLMState(ctx context.Context, id int64, state domain.ExtractState) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE questions SET llm_state = $2, updated_at = $3 WHERE id = $1",
		id, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("questionRepo.SetLLMState: %w", err)
	}
	return nil
}

// AddMarker records userID among the editors and sets the mark status.
func (r *questionRepo) AddMarker(ctx context.Context, id int64, userID string, status domain.MarkStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE questions SET
		   markers = CASE WHEN markers ? $2 THEN markers ELSE markers || to_jsonb($2::text) END,
		   status = $3, updated_at = $4
		 WHERE id = $1`,
		id, userID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("questionRepo.AddMarker: %w", err)
	}
	return nil
}
