package service

import (
	"context"
	"sync"
	"time"

	"meshbridge/internal/delivery"
	"meshbridge/internal/mesh"
	"meshbridge/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) InsertDirectMessage(ctx context.Context, rec models.DirectMessageRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockStore) InsertCirclePost(ctx context.Context, rec models.CirclePostRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockStore) InsertJournalEntry(ctx context.Context, rec models.JournalEntryRecord) error {
	return m.Called(ctx, rec).Error(0)
}

type mockTransport struct {
	mock.Mock

	mu      sync.Mutex
	handler mesh.MessageHandler
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
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	m.Called(handler)
}

func (m *mockTransport) Disconnect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// deliver simulates the relay pushing a payload to the registered handler.
func (m *mockTransport) deliver(payload mesh.Payload, senderID string) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	h(payload, senderID)
}

// onlineTransport returns a transport that initializes and reports one
// live websocket transport.
func onlineTransport() *mockTransport {
	t := &mockTransport{}
	t.On("OnMessage", mock.Anything).Return()
	t.On("Initialize", mock.Anything).Return(nil)
	t.On("GetStatus", mock.Anything).Return(mesh.Status{
		Initialized: true,
		Transports:  map[string]bool{mesh.TransportName: true},
		Queue:       mesh.QueueStatus{Size: 2},
	}, nil)
	t.On("Disconnect", mock.Anything).Return(nil)
	return t
}

type mockSweeper struct {
	mock.Mock
}

func (m *mockSweeper) ProcessRetries(ctx context.Context, now time.Time) (delivery.SweepResult, bool) {
	args := m.Called(ctx, now)
	return args.Get(0).(delivery.SweepResult), args.Bool(1)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

func boolPtr(b bool) *bool {
	return &b
}
