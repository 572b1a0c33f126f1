package mocks

import (
	"context"

	"github.com/dukex/fieldflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockMessenger is a mock implementation of actions.Messenger interface.
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) SendSMS(ctx context.Context, to, body string) (string, error) {
	args := m.Called(ctx, to, body)

	return args.String(0), args.Error(1)
}

func (m *MockMessenger) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	args := m.Called(ctx, to, subject, body)

	return args.String(0), args.Error(1)
}

// MockNotifier is a mock implementation of actions.Notifier interface.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, notification *models.Notification) error {
	args := m.Called(ctx, notification)

	return args.Error(0)
}
