package service

import (
	"context"
	"errors"
	"fmt"

	"docpipe/internal/domain"
	"docpipe/internal/logger"
	"docpipe/internal/port"
)

// FileService manages files already in the pipeline.
type FileService interface {
	GetByID(ctx context.Context, fileID int64) (*domain.File, error)
	AttachSchemas(ctx context.Context, fileID int64, schemaIDs []int64) (*domain.File, error)
	DetachSchema(ctx context.Context, fileID, schemaID int64) (*domain.File, error)
	Rerun(ctx context.Context, fileID int64, mode string) (*domain.File, error)
	Cancel(ctx context.Context, fileID int64) (*domain.File, error)
	Delete(ctx context.Context, fileID int64) error
	CancelProject(ctx context.Context, projectID int64) (int, error)
	DeleteProject(ctx context.Context, projectID int64) error
}

type fileService struct {
	files    port.FileRepository
	schemas  port.SchemaRepository
	projects port.ProjectRepository
	pipeline Pipeline
	log      *logger.Logger
}

// NewFileService creates a new FileService implementation.
func NewFileService(
	files port.FileRepository,
	schemas port.SchemaRepository,
	projects port.ProjectRepository,
	pipeline Pipeline,
	log *logger.Logger,
) FileService {
	return &fileService{
		files:    files,
		schemas:  schemas,
		projects: projects,
		pipeline: pipeline,
		log:      log.With("component", "files"),
	}
}

func (s *fileService) GetByID(ctx context.Context, fileID int64) (*domain.File, error) {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.Deleted {
		return nil, domain.ErrFileGone
	}
	return f, nil
}

func (s *fileService) AttachSchemas(ctx context.Context, fileID int64, schemaIDs []int64) (*domain.File, error) {
	if len(schemaIDs) == 0 {
		return nil, fmt.Errorf("%w: schema_ids is required", domain.ErrInvalidInput)
	}
	found, err := s.schemas.ListByIDs(ctx, schemaIDs)
	if err != nil {
		return nil, fmt.Errorf("files.AttachSchemas: %w", err)
	}
	if len(found) != len(uniqueIDs(schemaIDs)) {
		return nil, domain.ErrSchemaNotFound
	}
	return s.pipeline.AttachSchemas(ctx, fileID, schemaIDs)
}

func (s *fileService) DetachSchema(ctx context.Context, fileID, schemaID int64) (*domain.File, error) {
	return s.pipeline.DetachSchemas(ctx, fileID, []int64{schemaID})
}

func (s *fileService) Rerun(ctx context.Context, fileID int64, mode string) (*domain.File, error) {
	m, err := domain.ParseRerunMode(mode)
	if err != nil {
		return nil, err
	}
	return s.pipeline.Rerun(ctx, fileID, m)
}

func (s *fileService) Cancel(ctx context.Context, fileID int64) (*domain.File, error) {
	if _, err := s.GetByID(ctx, fileID); err != nil {
		return nil, err
	}
	return s.pipeline.Cancel(ctx, fileID)
}

// Delete stops any pipeline work on the file, then soft-deletes it.
func (s *fileService) Delete(ctx context.Context, fileID int64) error {
	if _, err := s.GetByID(ctx, fileID); err != nil {
		return err
	}
	if _, err := s.pipeline.Cancel(ctx, fileID); err != nil && !errors.Is(err, domain.ErrStateRejected) {
		return fmt.Errorf("files.Delete: %w", err)
	}
	if err := s.files.SoftDelete(ctx, fileID); err != nil {
		return fmt.Errorf("files.Delete: %w", err)
	}
	s.log.Info("files.Delete: file deleted", "file_id", fileID)
	return nil
}

func (s *fileService) CancelProject(ctx context.Context, projectID int64) (int, error) {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return 0, err
	}
	return s.pipeline.CancelProject(ctx, projectID)
}

// DeleteProject cancels the project's live files and soft-deletes the
// project together with its files.
func (s *fileService) DeleteProject(ctx context.Context, projectID int64) error {
	n, err := s.CancelProject(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.projects.SoftDelete(ctx, projectID); err != nil {
		return fmt.Errorf("files.DeleteProject: %w", err)
	}
	s.log.Info("files.DeleteProject: project deleted", "project_id", projectID, "cancelled", n)
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
