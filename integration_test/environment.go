package integration_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"meshbridge/internal/constants"
	"meshbridge/internal/database"
	"meshbridge/internal/mesh"
	"meshbridge/internal/metrics"
	"meshbridge/internal/models"
	"meshbridge/internal/monitor"
	"meshbridge/internal/service"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// LocalUserID is the identity the service runs as in every environment.
const LocalUserID = "local-user"

// TestRelay is an in-process websocket relay that records every frame a
// peer sends and can push frames back to the latest peer.
type TestRelay struct {
	server   *httptest.Server
	received chan mesh.Frame

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newTestRelay(t *testing.T) *TestRelay {
	t.Helper()
	relay := &TestRelay{received: make(chan mesh.Frame, 32)}
	relay.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		relay.mu.Lock()
		relay.conns = append(relay.conns, conn)
		relay.mu.Unlock()

		for {
			var f mesh.Frame
			if err := wsjson.Read(r.Context(), conn, &f); err != nil {
				return
			}
			relay.received <- f
		}
	}))
	t.Cleanup(relay.server.Close)
	return relay
}

// URL is the ws:// address of the relay.
func (r *TestRelay) URL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

// Deliver pushes a frame to the most recently connected peer.
func (r *TestRelay) Deliver(t *testing.T, f mesh.Frame) {
	t.Helper()
	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		if len(r.conns) == 0 {
			return false
		}
		conn = r.conns[len(r.conns)-1]
		return true
	}, 5*time.Second, 10*time.Millisecond, "no peer connected to relay")
	require.NoError(t, wsjson.Write(context.Background(), conn, f))
}

// NextFrame waits for the next frame a peer sent.
func (r *TestRelay) NextFrame(t *testing.T) mesh.Frame {
	t.Helper()
	select {
	case f := <-r.received:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("relay received no frame")
		return mesh.Frame{}
	}
}

// EnvironmentOptions shape a TestEnvironment.
type EnvironmentOptions struct {
	MeshEnabled    bool
	MeshAsFallback bool
	StoreOnline    bool
	RetryDelaySec  int
}

// TestEnvironment is a fully wired messaging service over a real sqlite
// store and, optionally, a live websocket relay.
type TestEnvironment struct {
	t        *testing.T
	DB       *database.Database
	Relay    *TestRelay
	Provider *monitor.StaticProvider
	Registry *metrics.Registry
	Service  *service.Service

	received chan *models.UnifiedMessage
}

// NewTestEnvironment builds and initializes the service. Everything is torn
// down with t.Cleanup.
func NewTestEnvironment(t *testing.T, opts EnvironmentOptions) *TestEnvironment {
	t.Helper()
	t.Setenv(constants.EncryptionEnableEnv, "")

	db, err := database.New(filepath.Join(t.TempDir(), "meshbridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &TestEnvironment{
		t:        t,
		DB:       db,
		Provider: monitor.NewStaticProvider(opts.StoreOnline),
		Registry: metrics.NewRegistry(),
		received: make(chan *models.UnifiedMessage, 16),
	}

	meshEnabled, fallback := opts.MeshEnabled, opts.MeshAsFallback
	retryDelay := opts.RetryDelaySec
	if retryDelay <= 0 {
		retryDelay = 1
	}
	cfg := models.MessagingConfig{
		MeshEnabled:         &meshEnabled,
		MeshAsFallback:      &fallback,
		RetryAttempts:       3,
		TimeoutMs:           2000,
		BatchSize:           10,
		RetryDelaySec:       retryDelay,
		SyncIntervalSec:     3600,
		MeshPollIntervalSec: 3600,
	}

	var transport mesh.Transport
	if opts.MeshEnabled {
		env.Relay = newTestRelay(t)
		transport = mesh.NewRelayTransport(models.MeshConfig{
			RelayURL: env.Relay.URL(),
			PeerID:   LocalUserID,
		}, models.RetryConfig{InitialBackoffMs: 10, MaxBackoffMs: 50, MaxAttempts: 3}, logger)
	}

	env.Service = service.New(cfg, db, transport, env.Provider, nil, logger, env.Registry)
	env.Service.RegisterMessageHandler(models.MessageTypeDirect, func(ctx context.Context, msg *models.UnifiedMessage) {
		env.received <- msg
	})

	require.NoError(t, env.Service.Initialize(env.Context()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.Service.Disconnect(ctx)
	})
	return env
}

// Context carries the local user's identity.
func (e *TestEnvironment) Context() context.Context {
	return service.WithSenderID(context.Background(), LocalUserID)
}

// NextInbound waits for the handler to receive a message.
func (e *TestEnvironment) NextInbound() *models.UnifiedMessage {
	e.t.Helper()
	select {
	case msg := <-e.received:
		return msg
	case <-time.After(5 * time.Second):
		e.t.Fatal("no inbound message received")
		return nil
	}
}
