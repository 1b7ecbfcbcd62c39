package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/portal-gateway/internal/domain/models"
)

type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) AuthCodeURL(state, verifier string) string {
	args := m.Called(state, verifier)
	return args.String(0)
}

func (m *MockIdentityProvider) Exchange(ctx context.Context, code, verifier string) (*models.TokenSet, error) {
	args := m.Called(ctx, code, verifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TokenSet), args.Error(1)
}

func (m *MockIdentityProvider) Refresh(ctx context.Context, refreshToken string) (*models.TokenSet, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TokenSet), args.Error(1)
}

func (m *MockIdentityProvider) EndSessionURL(idTokenHint string) string {
	args := m.Called(idTokenHint)
	return args.String(0)
}
