package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docpipe/internal/domain"
)

// MockFileService is a mock implementation of service.FileService.
type MockFileService struct {
	mock.Mock
}

func (m *MockFileService) GetByID(ctx context.Context, fileID int64) (*domain.File, error) {
	args := m.Called(ctx, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.File), args.Error(1)
}

func (m *MockFileService) AttachSchemas(ctx context.Context, fileID int64, schemaIDs []int64) (*domain.File, error) {
	args := m.Called(ctx, fileID, schemaIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.File), args.Error(1)
}

func (m *MockFileService) DetachSchema(ctx context.Context, fileID, schemaID int64) (*domain.File, error) {
	args := m.Called(ctx, fileID, schemaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.File), args.Error(1)
}

func (m *MockFileService) Rerun(ctx context.Context, fileID int64, mode string) (*domain.File, error) {
	args := m.Called(ctx, fileID, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.File), args.Error(1)
}

func (m *MockFileService) Cancel(ctx context.Context, fileID int64) (*domain.File, error) {
	args := m.Called(ctx, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.File), args.Error(1)
}

func (m *MockFileService) Delete(ctx context.Context, fileID int64) error {
	args := m.Called(ctx, fileID)
	return args.Error(0)
}

func (m *MockFileService) CancelProject(ctx context.Context, projectID int64) (int, error) {
	args := m.Called(ctx, projectID)
	return args.Int(0), args.Error(1)
}

func (m *MockFileService) DeleteProject(ctx context.Context, projectID int64) error {
	args := m.Called(ctx, projectID)
	return args.Error(0)
}
