package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-relay/internal/auth"
	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MessageRepositoryMock) Recent(ctx context.Context, window time.Duration) ([]models.Message, error) {
	args := m.Called(ctx, window)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) Cleanup(ctx context.Context, horizon time.Duration) (int, error) {
	args := m.Called(ctx, horizon)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type IdentityProviderMock struct {
	mock.Mock
}

func (m *IdentityProviderMock) Verify(ctx context.Context, token string) (auth.Identity, error) {
	args := m.Called(ctx, token)
	var identity auth.Identity
	if val := args.Get(0); val != nil {
		identity = val.(auth.Identity)
	}
	return identity, args.Error(1)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ auth.IdentityProvider = (*IdentityProviderMock)(nil)
