package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"meshbridge/internal/constants"
	apperrors "meshbridge/internal/errors"
	"meshbridge/internal/metrics"
	"meshbridge/internal/models"

	"github.com/sirupsen/logrus"
)

// MessageRouter is the part of Router the retry queue drives.
type MessageRouter interface {
	Route(ctx context.Context, msg *models.UnifiedMessage, opts models.DeliveryOptions) error
}

// SweepResult summarizes one ProcessRetries pass.
type SweepResult struct {
	Attempted int
	Succeeded int
	Exhausted int
}

// RetryQueue re-attempts failed messages after a fixed delay, up to a
// per-message limit. Exhausted messages are dropped with status failed.
type RetryQueue struct {
	router       MessageRouter
	defaultLimit int
	delay        time.Duration
	logger       *logrus.Logger
	errLog       *apperrors.Logger
	metrics      *metrics.Registry
	onSettled    func(*models.UnifiedMessage)

	mu       sync.Mutex
	items    map[string]*models.UnifiedMessage
	order    []string
	sweeping atomic.Bool
}

func NewRetryQueue(router MessageRouter, cfg models.MessagingConfig, logger *logrus.Logger, registry *metrics.Registry) *RetryQueue {
	limit := cfg.RetryAttempts
	if limit <= 0 {
		limit = constants.DefaultRetryAttempts
	}
	delay := cfg.RetryDelay()
	if delay <= 0 {
		delay = constants.DefaultRetryDelaySec * time.Second
	}
	return &RetryQueue{
		router:       router,
		defaultLimit: limit,
		delay:        delay,
		logger:       logger,
		errLog:       apperrors.FromLogrus(logger),
		metrics:      metrics.Or(registry),
		items:        make(map[string]*models.UnifiedMessage),
	}
}

// OnSettled sets a callback for messages leaving the queue, delivered or failed.
func (q *RetryQueue) OnSettled(fn func(*models.UnifiedMessage)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onSettled = fn
}

// Enqueue stores a copy of msg. It reports false when the ID is already
// queued or the message already succeeded.
func (q *RetryQueue) Enqueue(msg *models.UnifiedMessage) bool {
	if msg.Status.IsSuccess() {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.items[msg.ID]; dup {
		return false
	}
	q.items[msg.ID] = msg.Clone()
	q.order = append(q.order, msg.ID)
	q.recordDepth()
	return true
}

func (q *RetryQueue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[id]
	return ok
}

func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *RetryQueue) limitFor(msg *models.UnifiedMessage) int {
	if msg.RetryLimit > 0 {
		return msg.RetryLimit
	}
	return q.defaultLimit
}

// ProcessRetries runs one sweep at now. It returns false without doing
// anything if another sweep is in progress.
func (q *RetryQueue) ProcessRetries(ctx context.Context, now time.Time) (SweepResult, bool) {
	if !q.sweeping.CompareAndSwap(false, true) {
		return SweepResult{}, false
	}
	defer q.sweeping.Store(false)

	var result SweepResult
	due, exhausted := q.collect(now)
	for _, msg := range exhausted {
		q.fail(msg)
		result.Exhausted++
	}

	for _, msg := range due {
		if ctx.Err() != nil {
			break
		}
		msg.RetryCount++
		retryAt := now
		msg.LastRetry = &retryAt
		result.Attempted++

		err := q.router.Route(ctx, msg, models.DeliveryOptions{}.WithoutRetry())
		if err == nil {
			q.remove(msg.ID)
			result.Succeeded++
			q.metrics.IncrementCounter(metrics.RetryAttempts, map[string]string{"outcome": "success"}, "Retry attempts by outcome")
			q.logger.WithFields(logrus.Fields{
				"message_id":      msg.ID,
				"retry_count":     msg.RetryCount,
				"delivery_method": msg.DeliveryMethod,
			}).Info("Retry delivered message")
			q.settled(msg)
			continue
		}

		q.metrics.IncrementCounter(metrics.RetryAttempts, map[string]string{"outcome": "failure"}, "Retry attempts by outcome")
		if msg.RetryCount >= q.limitFor(msg) {
			q.remove(msg.ID)
			q.fail(msg)
			result.Exhausted++
			continue
		}
		q.errLog.LogRetryableError(err, "Retry attempt failed", logrus.Fields{"retry_count": msg.RetryCount})
	}

	q.metrics.IncrementCounter(metrics.RetrySweeps, nil, "Retry sweeps run")
	return result, true
}

// collect picks the messages due at now and removes those with no retries left.
func (q *RetryQueue) collect(now time.Time) (due, exhausted []*models.UnifiedMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.order[:0]
	for _, id := range q.order {
		msg := q.items[id]
		if msg.RetryCount >= q.limitFor(msg) {
			delete(q.items, id)
			exhausted = append(exhausted, msg)
			continue
		}
		kept = append(kept, id)

		last := msg.Timestamp
		if msg.LastRetry != nil {
			last = *msg.LastRetry
		}
		if now.Sub(last) > q.delay {
			due = append(due, msg)
		}
	}
	q.order = kept
	q.recordDepth()
	return due, exhausted
}

func (q *RetryQueue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[id]; !ok {
		return
	}
	delete(q.items, id)
	for i, queued := range q.order {
		if queued == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.recordDepth()
}

func (q *RetryQueue) fail(msg *models.UnifiedMessage) {
	if err := msg.Transition(models.StatusFailed); err != nil {
		q.logger.WithError(err).Warn("Ignoring invalid status transition")
	}
	q.metrics.IncrementCounter(metrics.RetryExhausted, nil, "Messages dropped after exhausting retries")
	q.errLog.LogError(apperrors.NewRetryExhaustedError(msg.ID, msg.RetryCount), "Message permanently failed")
	q.settled(msg)
}

func (q *RetryQueue) settled(msg *models.UnifiedMessage) {
	q.mu.Lock()
	fn := q.onSettled
	q.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// recordDepth must be called with q.mu held.
func (q *RetryQueue) recordDepth() {
	q.metrics.SetGauge(metrics.QueueDepth, float64(len(q.items)), map[string]string{"queue": "retry"}, "Messages waiting per queue")
}
