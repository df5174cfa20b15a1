package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docpipe/internal/service"
)

// MockStatusService is a mock implementation of service.StatusService.
type MockStatusService struct {
	mock.Mock
}

func (m *MockStatusService) Get(ctx context.Context, fileID int64) (*service.FileStatus, error) {
	args := m.Called(ctx, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.FileStatus), args.Error(1)
}

func (m *MockStatusService) GetBatch(ctx context.Context, fileIDs []int64) ([]service.FileStatus, error) {
	args := m.Called(ctx, fileIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.FileStatus), args.Error(1)
}
