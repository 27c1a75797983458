package service

import (
	"context"
	"sync"
	"time"

	"meshbridge/internal/constants"
	"meshbridge/internal/delivery"
	apperrors "meshbridge/internal/errors"
	"meshbridge/internal/mesh"
	"meshbridge/internal/metrics"
	"meshbridge/internal/models"
	"meshbridge/internal/monitor"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MessagingService is the delivery core as seen by outer layers.
type MessagingService interface {
	Initialize(ctx context.Context) error
	SendMessage(ctx context.Context, content string, mctx models.MessageContext, opts models.DeliveryOptions) (*models.UnifiedMessage, error)
	QueueMessage(ctx context.Context, content string, mctx models.MessageContext, opts models.DeliveryOptions) (*models.UnifiedMessage, error)
	RegisterMessageHandler(msgType models.MessageType, handler MessageHandler)
	GetConnectionStatus() models.ConnectionStatus
	GetQueueStats() models.QueueStats
	Disconnect(ctx context.Context) error
}

// MessageHandler receives inbound messages of one type.
type MessageHandler func(ctx context.Context, msg *models.UnifiedMessage)

// SenderResolver returns the ID of the local user sending a message.
type SenderResolver func(ctx context.Context) string

type senderKey struct{}

// WithSenderID attaches the sending user's ID to ctx.
func WithSenderID(ctx context.Context, senderID string) context.Context {
	return context.WithValue(ctx, senderKey{}, senderID)
}

// SenderFromContext is the default SenderResolver.
func SenderFromContext(ctx context.Context) string {
	id, _ := ctx.Value(senderKey{}).(string)
	return id
}

// Service routes outbound messages, retries failures and reconciles
// inbound mesh messages into the store.
type Service struct {
	cfg       models.MessagingConfig
	transport mesh.Transport
	monitor   *monitor.ConnectionMonitor
	adapter   *delivery.StoreAdapter
	router    *delivery.Router
	outbound  *delivery.OutboundQueue
	retries   *delivery.RetryQueue
	scheduler *SyncScheduler
	inbound   *CircuitBreaker
	resolve   SenderResolver
	logger    *logrus.Logger
	errLog    *apperrors.Logger
	metrics   *metrics.Registry
	now       func() time.Time

	// lifecycle serializes Initialize and Disconnect.
	lifecycle sync.Mutex

	mu          sync.Mutex
	initialized bool
	runCtx      context.Context
	cancel      context.CancelFunc
	handlers    map[models.MessageType]MessageHandler
	wg          sync.WaitGroup
}

var _ MessagingService = (*Service)(nil)

// New wires the delivery core. transport is ignored, and mesh fallback
// is off, when the mesh is disabled in cfg. A nil resolver reads the
// sender from the context.
func New(cfg models.MessagingConfig, store delivery.Store, transport mesh.Transport, provider monitor.NetworkStatusProvider, resolver SenderResolver, logger *logrus.Logger, registry *metrics.Registry) *Service {
	if !cfg.IsMeshEnabled() {
		transport = nil
		noFallback := false
		cfg.MeshAsFallback = &noFallback
	}
	if resolver == nil {
		resolver = SenderFromContext
	}
	pollInterval := cfg.MeshPollInterval()
	if pollInterval <= 0 {
		pollInterval = constants.DefaultMeshPollIntervalSec * time.Second
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = constants.DefaultTimeoutMs
	}
	registry = metrics.Or(registry)

	s := &Service{
		cfg:       cfg,
		transport: transport,
		resolve:   resolver,
		logger:    logger,
		errLog:    apperrors.FromLogrus(logger),
		metrics:   registry,
		now:       time.Now,
		handlers:  make(map[models.MessageType]MessageHandler),
	}

	s.monitor = monitor.NewConnectionMonitor(provider, transport, pollInterval, logger, registry)
	s.adapter = delivery.NewStoreAdapter(store, s.monitor, logger)
	s.router = delivery.NewRouter(s.adapter, transport, s.monitor, cfg, logger, registry)
	s.outbound = delivery.NewOutboundQueue()
	s.retries = delivery.NewRetryQueue(s.router, cfg, logger, registry)
	s.scheduler = NewSyncScheduler(s.outbound, s.retries, s.deliver, cfg, logger)
	s.inbound = NewCircuitBreaker("inbound_reconcile", constants.CBMaxFailures, constants.CBOpenTimeout, logger)

	s.retries.OnSettled(func(*models.UnifiedMessage) { s.refreshPending() })
	s.monitor.OnStoreReachable(s.sweepNow)
	return s
}

// Initialize brings up the mesh and starts the monitor and scheduler.
// Calling it again is a no-op.
func (s *Service) Initialize(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.isInitialized() {
		return nil
	}

	if s.transport != nil {
		s.transport.OnMessage(s.handleIncoming)
		if err := s.transport.Initialize(ctx); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeMeshUnavailable, "failed to initialize mesh transport")
		}
		s.monitor.RefreshMesh(ctx)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.initialized = true
	s.runCtx = runCtx
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.monitor.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.scheduler.Start(runCtx)
	}()

	drained := s.drainOutbound(runCtx)
	status := s.monitor.Snapshot()
	s.logger.WithFields(logrus.Fields{
		"mesh_enabled":     s.transport != nil,
		"mesh_initialized": status.Mesh.Initialized,
		"store_reachable":  status.Store,
		"drained":          drained,
	}).Info("Unified messaging service initialized")
	return nil
}

// SendMessage builds a message and delivers it synchronously. Delivery
// failures are reflected in the returned message's Status, not the error.
func (s *Service) SendMessage(ctx context.Context, content string, mctx models.MessageContext, opts models.DeliveryOptions) (*models.UnifiedMessage, error) {
	if !s.isInitialized() {
		return nil, apperrors.ErrNotInitialized
	}

	msg, err := s.buildMessage(ctx, content, mctx, opts)
	if err != nil {
		return nil, err
	}
	s.deliver(ctx, msg, opts)
	return msg, nil
}

// QueueMessage builds a message and leaves it for the scheduler. The
// returned message is the pending original; the queue keeps its own copy.
func (s *Service) QueueMessage(ctx context.Context, content string, mctx models.MessageContext, opts models.DeliveryOptions) (*models.UnifiedMessage, error) {
	msg, err := s.buildMessage(ctx, content, mctx, opts)
	if err != nil {
		return nil, err
	}
	s.outbound.Push(msg, opts)
	s.refreshPending()
	LogMessage(ctx, s.logger, "outgoing", msg).Debug("Message queued for delivery")
	return msg, nil
}

// RegisterMessageHandler sets the handler for inbound messages of
// msgType, replacing any earlier one.
func (s *Service) RegisterMessageHandler(msgType models.MessageType, handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[msgType] = handler
}

func (s *Service) GetConnectionStatus() models.ConnectionStatus {
	status := s.monitor.Snapshot()
	status.PendingMessages = s.GetQueueStats().TotalPending
	return status
}

func (s *Service) GetQueueStats() models.QueueStats {
	stats := models.QueueStats{
		MessageQueue: s.outbound.Len(),
		RetryQueue:   s.retries.Len(),
	}
	stats.TotalPending = stats.MessageQueue + stats.RetryQueue
	return stats
}

// FlushOnce runs one scheduler pass synchronously.
func (s *Service) FlushOnce(ctx context.Context) FlushResult {
	result := s.scheduler.FlushOnce(ctx)
	s.refreshPending()
	return result
}

// Disconnect stops background work and shuts down the mesh. In-flight
// sends are not cancelled. It is safe to call at any time.
func (s *Service) Disconnect(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	wasInitialized := s.initialized
	cancel := s.cancel
	s.initialized = false
	s.runCtx = nil
	s.cancel = nil
	s.mu.Unlock()

	if !wasInitialized {
		return nil
	}

	cancel()
	if err := waitGroup(ctx, &s.wg); err != nil {
		s.logger.WithError(err).Warn("Timed out waiting for background workers")
	}

	if s.transport != nil {
		err := s.transport.Disconnect(ctx)
		s.monitor.ResetMesh()
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to disconnect mesh transport")
		}
	}

	s.logger.Info("Unified messaging service disconnected")
	return nil
}

func (s *Service) isInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Service) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

func (s *Service) buildMessage(ctx context.Context, content string, mctx models.MessageContext, opts models.DeliveryOptions) (*models.UnifiedMessage, error) {
	if err := validateContext(mctx); err != nil {
		return nil, err
	}

	sender := s.resolve(ctx)
	if sender == "" {
		sender = constants.AnonymousSenderID
	}

	msg := &models.UnifiedMessage{
		ID:         uuid.NewString(),
		Type:       mctx.Type,
		SenderID:   sender,
		Content:    content,
		Metadata:   contextMetadata(mctx),
		Timestamp:  s.now(),
		Status:     models.StatusPending,
		RetryLimit: opts.RetryLimit,
	}
	switch mctx.Type {
	case models.MessageTypeDirect:
		msg.RecipientID = mctx.TargetID
	case models.MessageTypeCircle:
		msg.CircleID = mctx.TargetID
	}
	return msg, nil
}

func validateContext(mctx models.MessageContext) error {
	switch mctx.Type {
	case models.MessageTypeDirect, models.MessageTypeCircle:
		if mctx.TargetID == "" {
			return apperrors.NewValidationError("targetId", "", string(mctx.Type)+" messages need a target")
		}
	case models.MessageTypeJournal, models.MessageTypeSystem:
	default:
		return apperrors.NewValidationError("type", string(mctx.Type), "unknown message type")
	}
	switch mctx.Visibility {
	case "", models.VisibilityPublic, models.VisibilityCircle, models.VisibilityPrivate:
		return nil
	default:
		return apperrors.NewValidationError("visibility", string(mctx.Visibility), "unknown visibility")
	}
}

// contextMetadata copies the caller's metadata and records the visibility
// so store records and mesh payloads can read it back.
func contextMetadata(mctx models.MessageContext) map[string]interface{} {
	if len(mctx.Metadata) == 0 && mctx.Visibility == "" {
		return nil
	}
	md := make(map[string]interface{}, len(mctx.Metadata)+1)
	for k, v := range mctx.Metadata {
		md[k] = v
	}
	if mctx.Visibility != "" {
		md["visibility"] = string(mctx.Visibility)
	}
	return md
}

// deliver routes msg once. A failed message is marked failed and, when
// retry is enabled, handed to the retry queue.
func (s *Service) deliver(ctx context.Context, msg *models.UnifiedMessage, opts models.DeliveryOptions) bool {
	if opts.RetryLimit > 0 {
		msg.RetryLimit = opts.RetryLimit
	}

	err := s.router.Route(ctx, msg, opts)
	if err == nil {
		LogMessage(ctx, s.logger, "outgoing", msg).Info("Message delivered")
		s.refreshPending()
		return true
	}

	if terr := msg.Transition(models.StatusFailed); terr != nil {
		s.logger.WithError(terr).Warn("Ignoring invalid status transition")
	}

	fields := MessageFields(ctx, msg)
	if opts.RetryEnabled() && s.retries.Enqueue(msg) {
		s.errLog.LogRetryableError(err, "Delivery failed, queued for retry", fields)
	} else {
		s.errLog.LogError(err, "Delivery failed", fields)
	}
	s.refreshPending()
	return false
}

func (s *Service) drainOutbound(ctx context.Context) int {
	queued := s.outbound.Drain(0)
	for _, item := range queued {
		s.deliver(ctx, item.Message, item.Options)
	}
	s.refreshPending()
	return len(queued)
}

// sweepNow runs a retry sweep right away; the monitor calls it when the
// store comes back.
func (s *Service) sweepNow() {
	ctx := s.runContext()
	if ctx == nil {
		return
	}
	if result, ran := s.retries.ProcessRetries(ctx, s.now()); ran && result.Attempted > 0 {
		s.logger.WithFields(logrus.Fields{
			"retry_attempted": result.Attempted,
			"retry_succeeded": result.Succeeded,
		}).Info("Retried queued messages after store came back")
	}
	s.refreshPending()
}

func (s *Service) refreshPending() {
	stats := s.GetQueueStats()
	s.monitor.SetPending(stats.TotalPending)
	s.metrics.SetGauge(metrics.QueueDepth, float64(stats.MessageQueue), map[string]string{"queue": "outbound"}, "Messages waiting per queue")
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
