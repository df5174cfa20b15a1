package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docpipe/internal/service"
)

// MockIntakeService is a mock implementation of service.IntakeService.
type MockIntakeService struct {
	mock.Mock
}

func (m *MockIntakeService) Upload(ctx context.Context, input service.UploadInput) ([]service.UploadResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.UploadResult), args.Error(1)
}
