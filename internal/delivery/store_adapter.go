// Package delivery routes outbound messages to the durable store, the
// mesh, or both, and keeps the queues of messages still in flight.
package delivery

import (
	"context"
	"fmt"

	"meshbridge/internal/constants"
	apperrors "meshbridge/internal/errors"
	"meshbridge/internal/models"

	"github.com/sirupsen/logrus"
)

// Store is the durable backend. database.Database implements it.
type Store interface {
	InsertDirectMessage(ctx context.Context, rec models.DirectMessageRecord) error
	InsertCirclePost(ctx context.Context, rec models.CirclePostRecord) error
	InsertJournalEntry(ctx context.Context, rec models.JournalEntryRecord) error
}

// Reachability is the view of store connectivity the adapter needs.
type Reachability interface {
	StoreReachable() bool
	MarkStoreReachable()
}

// StoreAdapter maps a UnifiedMessage onto one of the store's record types.
type StoreAdapter struct {
	store  Store
	reach  Reachability
	logger *apperrors.Logger
}

func NewStoreAdapter(store Store, reach Reachability, logger *logrus.Logger) *StoreAdapter {
	return &StoreAdapter{
		store:  store,
		reach:  reach,
		logger: apperrors.FromLogrus(logger),
	}
}

// AttemptStoreSend writes msg and reports success. Errors are logged.
func (a *StoreAdapter) AttemptStoreSend(ctx context.Context, msg *models.UnifiedMessage) bool {
	if err := a.StoreSend(ctx, msg); err != nil {
		a.logger.LogRetryableError(err, "Store send failed", logrus.Fields{
			"message_type": msg.Type,
		})
		return false
	}
	return true
}

// StoreSend writes msg and returns the classified failure.
func (a *StoreAdapter) StoreSend(ctx context.Context, msg *models.UnifiedMessage) error {
	if !a.reach.StoreReachable() {
		return apperrors.NewTransientStoreError(msg.ID, fmt.Errorf("store unreachable"))
	}

	var err error
	switch msg.Type {
	case models.MessageTypeDirect:
		err = a.store.InsertDirectMessage(ctx, DirectRecord(msg))
	case models.MessageTypeCircle:
		err = a.store.InsertCirclePost(ctx, CircleRecord(msg))
	case models.MessageTypeJournal:
		err = a.store.InsertJournalEntry(ctx, JournalRecord(msg))
	default:
		return apperrors.NewUnsupportedTypeError(string(msg.Type)).WithContext("message_id", msg.ID)
	}
	if err != nil {
		return apperrors.NewTransientStoreError(msg.ID, err)
	}

	a.reach.MarkStoreReachable()
	return nil
}

func DirectRecord(msg *models.UnifiedMessage) models.DirectMessageRecord {
	messageType := msg.MetadataString("messageType")
	if messageType == "" {
		messageType = constants.DefaultDirectMessageType
	}
	return models.DirectMessageRecord{
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Content:     msg.Content,
		MessageType: messageType,
		Metadata:    msg.Metadata,
	}
}

func CircleRecord(msg *models.UnifiedMessage) models.CirclePostRecord {
	visibility := msg.MetadataString("visibility")
	if visibility == "" {
		visibility = constants.DefaultCircleVisibility
	}
	var frequency string
	if v, ok := msg.Metadata["frequency"]; ok && v != nil {
		frequency = fmt.Sprint(v)
	}
	return models.CirclePostRecord{
		UserID:      msg.SenderID,
		Content:     msg.Content,
		GroupID:     msg.CircleID,
		Visibility:  visibility,
		ChakraTag:   msg.MetadataString("chakraTag"),
		Tone:        msg.MetadataString("tone"),
		Frequency:   frequency,
		IsAnonymous: msg.MetadataBool("isAnonymous"),
	}
}

func JournalRecord(msg *models.UnifiedMessage) models.JournalEntryRecord {
	tags := []string{}
	if chakra := msg.MetadataString("chakraAlignment"); chakra != "" {
		tags = append(tags, chakra)
	}
	return models.JournalEntryRecord{
		UserID: msg.SenderID,
		Title:  msg.MetadataString("title"),
		Body:   msg.Content,
		Mood:   msg.MetadataString("moodTag"),
		Tags:   tags,
		Source: constants.JournalSource,
	}
}
