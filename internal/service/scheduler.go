package service

import (
	"context"
	"time"

	"meshbridge/internal/constants"
	"meshbridge/internal/delivery"
	"meshbridge/internal/models"

	"github.com/sirupsen/logrus"
)

// RetrySweeper runs one pass over the retry queue.
type RetrySweeper interface {
	ProcessRetries(ctx context.Context, now time.Time) (delivery.SweepResult, bool)
}

// deliverFunc sends a queued message and reports whether it was delivered.
// It settles failures itself.
type deliverFunc func(ctx context.Context, msg *models.UnifiedMessage, opts models.DeliveryOptions) bool

// FlushResult summarizes one scheduler pass.
type FlushResult struct {
	Drained   int
	Delivered int
	Retry     delivery.SweepResult
}

// SyncScheduler drains the outbound queue and drives retry sweeps.
type SyncScheduler struct {
	outbound  *delivery.OutboundQueue
	retries   RetrySweeper
	deliver   deliverFunc
	batchSize int
	interval  time.Duration
	logger    *logrus.Logger
	now       func() time.Time
}

func NewSyncScheduler(outbound *delivery.OutboundQueue, retries RetrySweeper, deliver deliverFunc, cfg models.MessagingConfig, logger *logrus.Logger) *SyncScheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = constants.DefaultBatchSize
	}
	interval := cfg.SyncInterval()
	if interval <= 0 {
		interval = constants.DefaultSyncIntervalSec * time.Second
	}
	return &SyncScheduler{
		outbound:  outbound,
		retries:   retries,
		deliver:   deliver,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs a pass every interval until ctx ends.
func (s *SyncScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("Starting sync scheduler")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sync scheduler context cancelled, stopping")
			return
		case <-ticker.C:
			s.FlushOnce(ctx)
		}
	}
}

// FlushOnce runs a single pass synchronously: one outbound batch, one
// retry sweep, then batch processing.
func (s *SyncScheduler) FlushOnce(ctx context.Context) FlushResult {
	var result FlushResult

	for _, item := range s.outbound.Drain(s.batchSize) {
		result.Drained++
		if s.deliver(ctx, item.Message, item.Options) {
			result.Delivered++
		}
	}

	if sweep, ran := s.retries.ProcessRetries(ctx, s.now()); ran {
		result.Retry = sweep
	} else {
		s.logger.Debug("Skipping retry sweep: another sweep is running")
	}

	s.processBatchQueue(ctx)

	if result.Drained > 0 || result.Retry.Attempted > 0 || result.Retry.Exhausted > 0 {
		s.logger.WithFields(logrus.Fields{
			"drained":         result.Drained,
			"delivered":       result.Delivered,
			"retry_attempted": result.Retry.Attempted,
			"retry_succeeded": result.Retry.Succeeded,
			"retry_exhausted": result.Retry.Exhausted,
		}).Debug("Completed sync pass")
	}
	return result
}

// processBatchQueue is reserved for batching store writes. It does nothing yet.
func (s *SyncScheduler) processBatchQueue(ctx context.Context) {}
