package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"docpipe/internal/domain"
	"docpipe/internal/port"
)

type auditRepo struct {
	db *sqlx.DB
}

// NewAuditRepo creates a new PostgreSQL-backed AuditRepository.
func NewAuditRepo(db *sqlx.DB) port.AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) ListRules(ctx context.Context, schemaID int64) ([]domain.AuditRule, error) {
	var rules []domain.AuditRule
	err := r.db.SelectContext(ctx, &rules,
		"SELECT * FROM audit_rules WHERE schema_id = $1 AND active = TRUE ORDER BY id", schemaID)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.ListRules: %w", err)
	}
	return rules, nil
}

func (r *auditRepo) CreateResults(ctx context.Context, results []domain.AuditResult) error {
	if len(results) == 0 {
		return nil
	}

	now := time.Now().UTC()
	const cols = 12
	valueStrings := make([]string, 0, len(results))
	valueArgs := make([]interface{}, 0, len(results)*cols)

	for i, res := range results {
		base := i * cols
		placeholders := make([]string, cols)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ", ")+")")
		valueArgs = append(valueArgs,
			res.FileID, res.SchemaID, res.QuestionID, res.RuleKey, res.Origin, res.Kind,
			res.IsCompliant, res.Suggestion, res.Reasons, res.SchemaPointers, res.OrderingKey, now)
	}

	query := fmt.Sprintf(
		`INSERT INTO audit_results (
			file_id, schema_id, question_id, rule_key, origin, kind,
			is_compliant, suggestion, reasons, schema_pointers, ordering_key, created_at
		) VALUES %s`,
		strings.Join(valueStrings, ", "))

	if _, err := r.db.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("auditRepo.CreateResults: %w", err)
	}
	return nil
}

func (r *auditRepo) DeleteByFile(ctx context.Context, fileID int64, kind *domain.AuditKind) error {
	var err error
	if kind == nil {
		_, err = r.db.ExecContext(ctx, "DELETE FROM audit_results WHERE file_id = $1", fileID)
	} else {
		_, err = r.db.ExecContext(ctx,
			"DELETE FROM audit_results WHERE file_id = $1 AND kind = $2", fileID, *kind)
	}
	if err != nil {
		return fmt.Errorf("auditRepo.DeleteByFile: %w", err)
	}
	return nil
}

func (r *auditRepo) DeleteBySchema(ctx context.Context, fileID, schemaID int64) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM audit_results WHERE file_id = $1 AND schema_id = $2", fileID, schemaID)
	if err != nil {
		return fmt.Errorf("auditRepo.DeleteBySchema: %w", err)
	}
	return nil
}

func (r *auditRepo) ListByFile(ctx context.Context, fileID int64) ([]domain.AuditResult, error) {
	var results []domain.AuditResult
	err := r.db.SelectContext(ctx, &results,
		"SELECT * FROM audit_results WHERE file_id = $1 ORDER BY schema_id, origin, ordering_key, id", fileID)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.ListByFile: %w", err)
	}
	return results, nil
}
