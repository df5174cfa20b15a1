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

type schemaRepo struct {
	db *sqlx.DB
}

// NewSchemaRepo creates a new PostgreSQL-backed SchemaRepository.
func NewSchemaRepo(db *sqlx.DB) port.SchemaRepository {
	return &schemaRepo{db: db}
}

func (r *schemaRepo) GetByID(ctx context.Context, id int64) (*domain.Schema, error) {
	var s domain.Schema
	err := r.db.GetContext(ctx, &s, "SELECT * FROM schemas WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSchemaNotFound
		}
		return nil, fmt.Errorf("schemaRepo.GetByID: %w", err)
	}
	return &s, nil
}

func (r *schemaRepo) GetByName(ctx context.Context, name string) (*domain.Schema, error) {
	var s domain.Schema
	err := r.db.GetContext(ctx, &s, "SELECT * FROM schemas WHERE name = $1", name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSchemaNotFound
		}
		return nil, fmt.Errorf("schemaRepo.GetByName: %w", err)
	}
	return &s, nil
}

func (r *schemaRepo) ListByIDs(ctx context.Context, ids []int64) ([]domain.Schema, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In("SELECT * FROM schemas WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, fmt.Errorf("schemaRepo.ListByIDs build: %w", err)
	}
	var schemas []domain.Schema
	if err := r.db.SelectContext(ctx, &schemas, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("schemaRepo.ListByIDs: %w", err)
	}
	return schemas, nil
}
