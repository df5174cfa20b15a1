package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docpipe/internal/port"
)

// MockLLMClient is a mock implementation of port.LLMClient.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Complete(ctx context.Context, req port.LLMRequest) (*port.LLMResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*port.LLMResponse), args.Error(1)
}
