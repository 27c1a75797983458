package service

import (
	"context"

	"meshbridge/internal/models"
	"meshbridge/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx so message logs carry unmasked identifiers and content.
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// MessageFields returns the standard log fields for msg. Identifiers are
// masked and content omitted unless ctx is verbose.
func MessageFields(ctx context.Context, msg *models.UnifiedMessage) logrus.Fields {
	fields := logrus.Fields{
		LogFieldMessageID:      msg.ID,
		LogFieldMessageType:    msg.Type,
		LogFieldDeliveryMethod: msg.DeliveryMethod,
		LogFieldStatus:         msg.Status,
		LogFieldSenderID:       msg.SenderID,
	}
	if msg.RecipientID != "" {
		fields[LogFieldRecipientID] = msg.RecipientID
	}
	if msg.CircleID != "" {
		fields[LogFieldCircleID] = msg.CircleID
	}
	if msg.RetryCount > 0 {
		fields[LogFieldRetryCount] = msg.RetryCount
	}

	if IsVerboseLogging(ctx) {
		fields[LogFieldContent] = msg.Content
		return fields
	}
	return logrus.Fields(privacy.MaskSensitiveFields(fields))
}

// LogMessage logs one event about msg with privacy controls.
func LogMessage(ctx context.Context, logger *logrus.Logger, direction string, msg *models.UnifiedMessage) *logrus.Entry {
	return logger.WithFields(MessageFields(ctx, msg)).WithField(LogFieldDirection, direction)
}
