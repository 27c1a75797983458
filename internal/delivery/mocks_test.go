package delivery

import (
	"context"
	"sync"

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

type fakeConnectivity struct {
	mu      sync.Mutex
	storeUp bool
	meshUp  bool
	marks   int
}

func (f *fakeConnectivity) StoreReachable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storeUp
}

func (f *fakeConnectivity) MeshInitialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meshUp
}

func (f *fakeConnectivity) MarkStoreReachable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storeUp = true
	f.marks++
}

type mockRouter struct {
	mock.Mock
}

func (m *mockRouter) Route(ctx context.Context, msg *models.UnifiedMessage, opts models.DeliveryOptions) error {
	return m.Called(ctx, msg, opts).Error(0)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

func boolPtr(b bool) *bool {
	return &b
}
