package main

import (
	"context"

	"meshbridge/internal/database"
	"meshbridge/internal/models"
	"meshbridge/internal/service"

	"github.com/stretchr/testify/mock"
)

type mockMessagingService struct {
	mock.Mock
}

func (m *mockMessagingService) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockMessagingService) SendMessage(ctx context.Context, content string, mctx models.MessageContext, opts models.DeliveryOptions) (*models.UnifiedMessage, error) {
	args := m.Called(ctx, content, mctx, opts)
	if msg := args.Get(0); msg != nil {
		return msg.(*models.UnifiedMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockMessagingService) QueueMessage(ctx context.Context, content string, mctx models.MessageContext, opts models.DeliveryOptions) (*models.UnifiedMessage, error) {
	args := m.Called(ctx, content, mctx, opts)
	if msg := args.Get(0); msg != nil {
		return msg.(*models.UnifiedMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockMessagingService) RegisterMessageHandler(msgType models.MessageType, handler service.MessageHandler) {
	m.Called(msgType, handler)
}

func (m *mockMessagingService) GetConnectionStatus() models.ConnectionStatus {
	args := m.Called()
	return args.Get(0).(models.ConnectionStatus)
}

func (m *mockMessagingService) GetQueueStats() models.QueueStats {
	args := m.Called()
	return args.Get(0).(models.QueueStats)
}

func (m *mockMessagingService) Disconnect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockRecordCounter struct {
	mock.Mock
}

func (m *mockRecordCounter) Counts(ctx context.Context) (database.RecordCounts, error) {
	args := m.Called(ctx)
	return args.Get(0).(database.RecordCounts), args.Error(1)
}
