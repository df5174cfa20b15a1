package service

import (
	"context"

	"docpipe/internal/domain"
	"docpipe/internal/pipeline"
)

// Pipeline is the slice of the orchestrator the services drive.
type Pipeline interface {
	Enqueue(f *domain.File) error
	AttachSchemas(ctx context.Context, fileID int64, schemaIDs []int64) (*domain.File, error)
	DetachSchemas(ctx context.Context, fileID int64, schemaIDs []int64) (*domain.File, error)
	Rerun(ctx context.Context, fileID int64, mode domain.RerunMode) (*domain.File, error)
	Reaudit(fileID int64)
	Cancel(ctx context.Context, fileID int64) (*domain.File, error)
	CancelProject(ctx context.Context, projectID int64) (int, error)
	HandleCallback(ctx context.Context, in pipeline.CallbackInput) error
}

var _ Pipeline = (*pipeline.Orchestrator)(nil)
