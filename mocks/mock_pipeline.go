package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docpipe/internal/domain"
	"docpipe/internal/pipeline"
)

// MockPipeline is a mock implementation of service.Pipeline.
type MockPipeline struct {
	mock.Mock
}

func (m *MockPipeline) Enqueue(f *domain.File) error {
	args := m.Called(f)
	return args.Error(0)
}

func (m *MockPipeline) AttachSchemas(ctx context.Context, fileID int64, schemaIDs []int64) (*domain.File, error) {
	args := m.Called(ctx, fileID, schemaIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.File), args.Error(1)
}

func (m *MockPipeline) DetachSchemas(ctx context.Context, fileID int64, schemaIDs []int64) (*domain.File, error) {
	args := m.Called(ctx, fileID, schemaIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.File), args.Error(1)
}

func (m *MockPipeline) Rerun(ctx context.Context, fileID int64, mode domain.RerunMode) (*domain.File, error) {
	args := m.Called(ctx, fileID, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.File), args.Error(1)
}

func (m *MockPipeline) Reaudit(fileID int64) {
	m.Called(fileID)
}

func (m *MockPipeline) Cancel(ctx context.Context, fileID int64) (*domain.File, error) {
	args := m.Called(ctx, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.File), args.Error(1)
}

func (m *MockPipeline) CancelProject(ctx context.Context, projectID int64) (int, error) {
	args := m.Called(ctx, projectID)
	return args.Int(0), args.Error(1)
}

func (m *MockPipeline) HandleCallback(ctx context.Context, in pipeline.CallbackInput) error {
	args := m.Called(ctx, in)
	return args.Error(0)
}
