package service

import (
	"context"

	"meshbridge/internal/mesh"
	"meshbridge/internal/metrics"
	"meshbridge/internal/models"

	"github.com/google/uuid"
)

// handleIncoming is registered with the mesh transport.
func (s *Service) handleIncoming(payload mesh.Payload, senderID string) {
	ctx := s.runContext()
	if ctx == nil {
		ctx = context.Background()
	}
	s.receive(ctx, payload, senderID)
}

// receive turns a mesh payload into a delivered message, hands it to the
// registered handler and then copies it into the store if the store is up.
//
// The payload carries no message type, so inbound messages are always direct.
func (s *Service) receive(ctx context.Context, payload mesh.Payload, senderID string) *models.UnifiedMessage {
	msg := &models.UnifiedMessage{
		ID:             uuid.NewString(),
		Type:           models.MessageTypeDirect,
		SenderID:       senderID,
		RecipientID:    s.resolve(ctx),
		Content:        payload.Note,
		Timestamp:      s.now(),
		DeliveryMethod: models.DeliveryMesh,
		Status:         models.StatusDelivered,
		MeshPayload: &models.MeshPayload{
			Tokens:         append([]string(nil), payload.Tokens...),
			IntentStrength: payload.IntentStrength,
			TTL:            payload.TTL,
			HopLimit:       payload.HopLimit,
		},
	}
	s.metrics.IncrementCounter(metrics.InboundMessages, map[string]string{"type": string(msg.Type)}, "Messages received over the mesh")

	s.mu.Lock()
	handler := s.handlers[msg.Type]
	s.mu.Unlock()

	entry := LogMessage(ctx, s.logger, "incoming", msg)
	if handler != nil {
		handler(ctx, msg)
	} else {
		entry.Debug("No handler registered for inbound message")
	}

	if !s.monitor.StoreReachable() {
		entry.Debug("Skipping inbound reconciliation: store unreachable")
		return msg
	}

	err := s.inbound.Execute(ctx, func(ctx context.Context) error {
		return s.adapter.StoreSend(ctx, msg)
	})
	if err != nil {
		s.errLog.LogWarn(err, "Failed to reconcile inbound mesh message", MessageFields(ctx, msg))
	}
	return msg
}
