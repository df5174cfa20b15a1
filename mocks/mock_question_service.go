package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docpipe/internal/domain"
	"docpipe/internal/service"
)

// MockQuestionService is a mock implementation of service.QuestionService.
type MockQuestionService struct {
	mock.Mock
}

func (m *MockQuestionService) EditAnswer(ctx context.Context, input service.EditAnswerInput) (*domain.Question, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Question), args.Error(1)
}
