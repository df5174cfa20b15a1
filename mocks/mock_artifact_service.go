package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docpipe/internal/domain"
	"docpipe/internal/service"
)

// MockArtifactService is a mock implementation of service.ArtifactService.
type MockArtifactService struct {
	mock.Mock
}

func (m *MockArtifactService) Open(ctx context.Context, fileID int64, kind domain.ArtifactKind) (*service.Artifact, error) {
	args := m.Called(ctx, fileID, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Artifact), args.Error(1)
}
