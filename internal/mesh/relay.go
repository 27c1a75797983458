package mesh

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"meshbridge/internal/constants"
	"meshbridge/internal/models"
	"meshbridge/internal/privacy"
	"meshbridge/internal/retry"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// TransportName is the key RelayTransport reports in Status.Transports.
const TransportName = "websocket"

const (
	FrameSend    = "send"
	FrameDeliver = "deliver"
)

// Frame is the relay wire envelope.
type Frame struct {
	Type    string  `json:"type"`
	To      string  `json:"to,omitempty"`
	From    string  `json:"from,omitempty"`
	Payload Payload `json:"payload"`
}

type outbound struct {
	payload     Payload
	recipientID string
}

// RelayTransport reaches other peers through a websocket relay. Sends made
// while the relay is unreachable are held in a bounded queue and flushed
// after reconnecting.
type RelayTransport struct {
	relayURL     string
	peerID       string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	maxQueued    int
	backoff      retry.BackoffConfig
	logger       *logrus.Logger

	mu          sync.RWMutex
	conn        *websocket.Conn
	initialized bool
	queue       []outbound
	handler     MessageHandler

	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRelayTransport builds a transport for cfg. Nothing is dialled until Initialize.
func NewRelayTransport(cfg models.MeshConfig, retryCfg models.RetryConfig, logger *logrus.Logger) *RelayTransport {
	dialTimeout := time.Duration(cfg.DialTimeoutSec) * time.Second
	if dialTimeout <= 0 {
		dialTimeout = constants.DefaultRelayDialTimeoutSec * time.Second
	}
	maxQueued := cfg.MaxQueuedMessages
	if maxQueued <= 0 {
		maxQueued = constants.DefaultRelayMaxQueuedMessages
	}
	return &RelayTransport{
		relayURL:     cfg.RelayURL,
		peerID:       cfg.PeerID,
		dialTimeout:  dialTimeout,
		writeTimeout: constants.DefaultRelayWriteTimeoutSec * time.Second,
		maxQueued:    maxQueued,
		backoff:      retry.FromConfig(retryCfg),
		logger:       logger,
	}
}

// Initialize dials the relay, retrying with backoff, and starts the read loop.
func (r *RelayTransport) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	endpoint, err := r.endpoint()
	if err != nil {
		return err
	}

	var conn *websocket.Conn
	err = retry.NewBackoff(r.backoff).
		OnRetry(func(attempt int, delay time.Duration, err error) {
			r.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": delay,
				"error":   err,
			}).Warn("Mesh relay dial failed, retrying")
		}).
		Retry(ctx, func() error {
			c, dialErr := r.dial(ctx, endpoint)
			if dialErr != nil {
				return dialErr
			}
			conn = c
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to connect to mesh relay: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.initialized = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(conn, endpoint)

	r.logger.WithField("peer_id", privacy.MaskPeerID(r.peerID)).Info("Mesh relay connected")
	return nil
}

func (r *RelayTransport) endpoint() (string, error) {
	if r.relayURL == "" {
		return "", fmt.Errorf("mesh relay URL is not configured")
	}
	u, err := url.Parse(r.relayURL)
	if err != nil {
		return "", fmt.Errorf("invalid mesh relay URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", fmt.Errorf("unsupported mesh relay URL scheme: %q", u.Scheme)
	}
	if r.peerID != "" {
		q := u.Query()
		q.Set("peer", r.peerID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (r *RelayTransport) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, r.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(constants.MaxRequestBodyBytes)
	return conn, nil
}

// run reads from conn until it drops, then reconnects until Disconnect.
func (r *RelayTransport) run(conn *websocket.Conn, endpoint string) {
	defer r.wg.Done()

	for {
		r.flushQueue(conn)
		err := r.readLoop(conn)

		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
		_ = conn.CloseNow()

		if r.ctx.Err() != nil {
			return
		}
		r.logger.WithError(err).Warn("Mesh relay connection lost, reconnecting")

		cfg := r.backoff
		cfg.MaxAttempts = 0
		var next *websocket.Conn
		err = retry.NewBackoff(cfg).Retry(r.ctx, func() error {
			c, dialErr := r.dial(r.ctx, endpoint)
			if dialErr != nil {
				return dialErr
			}
			next = c
			return nil
		})
		if err != nil || next == nil {
			return
		}

		r.mu.Lock()
		r.conn = next
		r.mu.Unlock()
		conn = next
		r.logger.Info("Mesh relay reconnected")
	}
}

func (r *RelayTransport) readLoop(conn *websocket.Conn) error {
	for {
		var frame Frame
		if err := wsjson.Read(r.ctx, conn, &frame); err != nil {
			return err
		}
		if frame.Type != FrameDeliver {
			r.logger.WithField("frame_type", frame.Type).Debug("Ignoring relay frame")
			continue
		}

		r.mu.RLock()
		handler := r.handler
		r.mu.RUnlock()
		if handler != nil {
			handler(frame.Payload, frame.From)
		}
	}
}

func (r *RelayTransport) flushQueue(conn *websocket.Conn) {
	r.mu.Lock()
	pending := r.queue
	r.queue = nil
	r.mu.Unlock()

	for i, item := range pending {
		if err := r.write(r.ctx, conn, item); err != nil {
			r.mu.Lock()
			r.queue = append(append([]outbound(nil), pending[i:]...), r.queue...)
			r.mu.Unlock()
			return
		}
	}
	if len(pending) > 0 {
		r.logger.WithField("count", len(pending)).Debug("Flushed queued mesh messages")
	}
}

// write sends one frame under base, the transport's own context. A write
// whose context ends closes the connection, so callers' contexts never
// reach it.
func (r *RelayTransport) write(base context.Context, conn *websocket.Conn, item outbound) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(base, r.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, Frame{Type: FrameSend, To: item.recipientID, Payload: item.payload})
}

// Send writes payload to the relay, or queues it while the relay is down.
// ctx is only checked before the write starts.
func (r *RelayTransport) Send(ctx context.Context, payload Payload, recipientID string) error {
	r.mu.RLock()
	initialized, conn, base := r.initialized, r.conn, r.ctx
	r.mu.RUnlock()

	if !initialized {
		return fmt.Errorf("mesh relay not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	item := outbound{payload: payload, recipientID: recipientID}
	if conn != nil {
		err := r.write(base, conn, item)
		if err == nil {
			return nil
		}
		r.logger.WithError(err).Debug("Mesh relay write failed, queueing")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) >= r.maxQueued {
		return fmt.Errorf("mesh relay queue full (%d messages)", r.maxQueued)
	}
	r.queue = append(r.queue, item)
	return nil
}

func (r *RelayTransport) GetStatus(ctx context.Context) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		Initialized: r.initialized,
		Transports:  map[string]bool{TransportName: r.conn != nil},
		Queue:       QueueStatus{Size: len(r.queue)},
	}, nil
}

func (r *RelayTransport) OnMessage(handler MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

// Disconnect closes the relay connection and stops reconnecting. Queued
// messages are dropped.
func (r *RelayTransport) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return nil
	}
	r.initialized = false
	conn := r.conn
	r.conn = nil
	dropped := len(r.queue)
	r.queue = nil
	r.cancel()
	r.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "disconnect")
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if dropped > 0 {
		r.logger.WithField("count", dropped).Warn("Dropped queued mesh messages on disconnect")
	}
	return nil
}
