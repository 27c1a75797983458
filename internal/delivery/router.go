package delivery

import (
	"context"
	"time"

	"meshbridge/internal/constants"
	apperrors "meshbridge/internal/errors"
	"meshbridge/internal/intent"
	"meshbridge/internal/mesh"
	"meshbridge/internal/metrics"
	"meshbridge/internal/models"
	"meshbridge/internal/tracing"

	"github.com/sirupsen/logrus"
)

// Connectivity is the router's view of both paths. monitor.ConnectionMonitor implements it.
type Connectivity interface {
	StoreReachable() bool
	MeshInitialized() bool
}

// Router picks a delivery method per message and executes it.
type Router struct {
	adapter   *StoreAdapter
	transport mesh.Transport
	conn      Connectivity
	cfg       models.MessagingConfig
	logger    *logrus.Logger
	errLog    *apperrors.Logger
	metrics   *metrics.Registry
}

// NewRouter builds a router. transport may be nil when the mesh is disabled.
func NewRouter(adapter *StoreAdapter, transport mesh.Transport, conn Connectivity, cfg models.MessagingConfig, logger *logrus.Logger, registry *metrics.Registry) *Router {
	return &Router{
		adapter:   adapter,
		transport: transport,
		conn:      conn,
		cfg:       cfg,
		logger:    logger,
		errLog:    apperrors.FromLogrus(logger),
		metrics:   metrics.Or(registry),
	}
}

type attemptResult struct {
	method models.DeliveryMethod
	err    error
}

func (r *Router) meshReady() bool {
	return r.transport != nil && r.conn.MeshInitialized()
}

// DetermineMethod chooses how a new message should travel.
func (r *Router) DetermineMethod(opts models.DeliveryOptions) models.DeliveryMethod {
	storeUp := r.conn.StoreReachable()
	switch {
	case opts.PreferMesh:
		return models.DeliveryMesh
	case !storeUp && r.meshReady():
		return models.DeliveryMesh
	case storeUp && r.cfg.IsMeshAsFallback():
		return models.DeliveryHybrid
	case storeUp:
		return models.DeliveryStore
	default:
		return models.DeliveryMesh
	}
}

// Route delivers msg, updating its Status and DeliveryMethod. On error the
// status is left for the caller to settle.
func (r *Router) Route(ctx context.Context, msg *models.UnifiedMessage, opts models.DeliveryOptions) error {
	method := r.DetermineMethod(opts)
	msg.DeliveryMethod = method
	if method != models.DeliveryStore {
		EnsureMeshPayload(msg)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := tracing.StartSpan(ctx, "delivery.route", tracing.MessageAttributes(msg)...)
	defer span.End()

	start := time.Now()
	var err error
	switch method {
	case models.DeliveryStore:
		err = r.routeStore(ctx, msg)
	case models.DeliveryMesh:
		err = r.routeMesh(ctx, msg)
	default:
		err = r.routeHybrid(ctx, msg, timeout)
	}

	r.metrics.RecordTimer(metrics.DeliveryDuration, time.Since(start), map[string]string{"method": string(method)}, "Time spent routing a message")
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	tracing.AddSpanAttributes(ctx,
		tracing.AttrDeliveryMethod.String(string(msg.DeliveryMethod)),
		tracing.AttrDeliveryStatus.String(string(msg.Status)))
	return nil
}

func (r *Router) routeStore(ctx context.Context, msg *models.UnifiedMessage) error {
	storeErr := r.storeAttempt(ctx, msg)
	if storeErr == nil {
		r.settle(msg, models.StatusSent)
		return nil
	}

	if !r.cfg.IsMeshAsFallback() || !r.meshReady() {
		return storeErr
	}

	r.errLog.LogWarn(storeErr, "Store send failed, falling back to mesh")
	r.metrics.IncrementCounter(metrics.DeliveryFallbacks, nil, "Store sends that fell back to the mesh")
	msg.DeliveryMethod = models.DeliveryMesh
	EnsureMeshPayload(msg)

	if meshErr := r.routeMesh(ctx, msg); meshErr != nil {
		return apperrors.NewAllMethodsFailedError(msg.ID, string(models.DeliveryStore), storeErr, meshErr)
	}
	return nil
}

func (r *Router) routeMesh(ctx context.Context, msg *models.UnifiedMessage) error {
	if err := r.meshAttempt(ctx, msg); err != nil {
		return err
	}
	r.settle(msg, models.StatusMeshQueued)
	return nil
}

// routeHybrid races both paths and settles on the first success.
func (r *Router) routeHybrid(ctx context.Context, msg *models.UnifiedMessage, timeout time.Duration) error {
	snapshot := msg.Clone()
	results := make(chan attemptResult, 2)
	cancels := make(map[models.DeliveryMethod]context.CancelFunc, 2)

	for _, method := range []models.DeliveryMethod{models.DeliveryStore, models.DeliveryMesh} {
		attemptCtx, cancel := r.attemptContext(ctx, timeout)
		cancels[method] = cancel
		go func() {
			defer cancel()
			var err error
			if method == models.DeliveryStore {
				err = r.storeAttempt(attemptCtx, snapshot)
			} else {
				err = r.meshAttempt(attemptCtx, snapshot)
			}
			results <- attemptResult{method: method, err: err}
		}()
	}

	var errs []error
	for len(errs) < 2 {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
				continue
			}
			if r.cfg.HybridCancelLoser {
				for method, cancel := range cancels {
					if method != res.method {
						cancel()
					}
				}
			}
			tracing.AddSpanAttributes(ctx, tracing.AttrWinner.String(string(res.method)))
			if res.method == models.DeliveryStore {
				r.settle(msg, models.StatusSent)
			} else {
				r.settle(msg, models.StatusMeshQueued)
			}
			return nil
		case <-ctx.Done():
			errs = append(errs, apperrors.NewTimeoutError("hybrid delivery", timeout))
			return apperrors.NewAllMethodsFailedError(msg.ID, string(models.DeliveryHybrid), errs...)
		}
	}
	return apperrors.NewAllMethodsFailedError(msg.ID, string(models.DeliveryHybrid), errs...)
}

// attemptContext scopes one branch of the race. Unless the loser is to be
// cancelled, a branch outlives the race and is bounded only by timeout.
func (r *Router) attemptContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if r.cfg.HybridCancelLoser {
		return context.WithCancel(ctx)
	}
	detached := context.WithoutCancel(ctx)
	if timeout > 0 {
		return context.WithTimeout(detached, timeout)
	}
	return context.WithCancel(detached)
}

// storeAttempt writes msg to the store without changing it.
func (r *Router) storeAttempt(ctx context.Context, msg *models.UnifiedMessage) error {
	err := r.adapter.StoreSend(ctx, msg)
	r.observe(models.DeliveryStore, err)
	return err
}

// meshAttempt hands msg to the mesh without changing it.
func (r *Router) meshAttempt(ctx context.Context, msg *models.UnifiedMessage) error {
	if !r.meshReady() {
		err := apperrors.NewMeshUnavailableError(msg.ID)
		r.observe(models.DeliveryMesh, err)
		return err
	}

	var err error
	if sendErr := r.transport.Send(ctx, ToMeshPayload(msg), msg.RecipientID); sendErr != nil {
		err = apperrors.NewMeshSendError(msg.ID, sendErr)
	}
	r.observe(models.DeliveryMesh, err)
	return err
}

func (r *Router) observe(method models.DeliveryMethod, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(apperrors.GetCode(err))
	}
	r.metrics.IncrementCounter(metrics.DeliveryAttempts,
		map[string]string{"method": string(method), "outcome": outcome},
		"Delivery attempts per path and outcome")
}

func (r *Router) settle(msg *models.UnifiedMessage, status models.MessageStatus) {
	if err := msg.Transition(status); err != nil {
		r.logger.WithError(err).Warn("Ignoring invalid status transition")
	}
}

// EnsureMeshPayload derives the mesh payload if msg has none.
func EnsureMeshPayload(msg *models.UnifiedMessage) {
	if msg.MeshPayload == nil {
		msg.MeshPayload = intent.BuildMeshPayload(msg.Content, intent.ContextOf(msg))
	}
}

// ToMeshPayload converts msg to the wire payload, filling gaps with defaults.
func ToMeshPayload(msg *models.UnifiedMessage) mesh.Payload {
	p := mesh.Payload{
		Note:           msg.Content,
		IntentStrength: constants.DefaultIntentStrength,
		TTL:            constants.DefaultTTLSec,
		HopLimit:       constants.DefaultHopLimit,
	}
	src := msg.MeshPayload
	if src == nil {
		p.Tokens = intent.ExtractTokens(msg.Content)
		return p
	}

	p.Tokens = append([]string(nil), src.Tokens...)
	if len(p.Tokens) == 0 {
		p.Tokens = intent.ExtractTokens(msg.Content)
	}
	if src.IntentStrength > 0 {
		p.IntentStrength = src.IntentStrength
	}
	if src.TTL > 0 {
		p.TTL = src.TTL
	}
	if src.HopLimit > 0 {
		p.HopLimit = src.HopLimit
	}
	return p
}
