package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docpipe/internal/service"
)

// MockResultService is a mock implementation of service.ResultService.
type MockResultService struct {
	mock.Mock
}

func (m *MockResultService) JSON(ctx context.Context, fileID int64, schemaID *int64) (*service.FileResult, error) {
	args := m.Called(ctx, fileID, schemaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.FileResult), args.Error(1)
}

func (m *MockResultService) CSV(ctx context.Context, fileID int64, schemaID *int64) (*service.Export, error) {
	args := m.Called(ctx, fileID, schemaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Export), args.Error(1)
}
