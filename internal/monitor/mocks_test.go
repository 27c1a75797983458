package monitor

import (
	"context"

	"meshbridge/internal/mesh"

	"github.com/stretchr/testify/mock"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Initialize(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTransport) GetStatus(ctx context.Context) (mesh.Status, error) {
	args := m.Called(ctx)
	return args.Get(0).(mesh.Status), args.Error(1)
}

func (m *mockTransport) Send(ctx context.Context, payload mesh.Payload, recipientID string) error {
	return m.Called(ctx, payload, recipientID).Error(0)
}

func (m *mockTransport) OnMessage(handler mesh.MessageHandler) {
	m.Called(handler)
}

func (m *mockTransport) Disconnect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
