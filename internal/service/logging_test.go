package service

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"meshbridge/internal/models"
	"meshbridge/internal/privacy"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsVerboseLogging(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected bool
	}{
		{"verbose enabled", WithVerbose(context.Background(), true), true},
		{"verbose disabled", WithVerbose(context.Background(), false), false},
		{"no verbose in context", context.Background(), false},
		{"plain string key is ignored", context.WithValue(context.Background(), "verbose", true), false}, //nolint:staticcheck
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsVerboseLogging(tt.ctx))
		})
	}
}

func sampleMessage() *models.UnifiedMessage {
	return &models.UnifiedMessage{
		ID:             "0123456789abcdef",
		Type:           models.MessageTypeDirect,
		SenderID:       "user123456",
		RecipientID:    "user654321",
		Content:        "hello world",
		DeliveryMethod: models.DeliveryStore,
		Status:         models.StatusSent,
		RetryCount:     2,
	}
}

func TestMessageFields_Masked(t *testing.T) {
	fields := MessageFields(context.Background(), sampleMessage())

	assert.Equal(t, "********89abcdef", fields[LogFieldMessageID])
	assert.Equal(t, "******3456", fields[LogFieldSenderID])
	assert.Equal(t, "******4321", fields[LogFieldRecipientID])
	assert.Equal(t, models.DeliveryStore, fields[LogFieldDeliveryMethod])
	assert.Equal(t, 2, fields[LogFieldRetryCount])
	assert.NotContains(t, fields, LogFieldContent)
	assert.NotContains(t, fields, LogFieldCircleID)
}

func TestMessageFields_Verbose(t *testing.T) {
	fields := MessageFields(WithVerbose(context.Background(), true), sampleMessage())

	assert.Equal(t, "0123456789abcdef", fields[LogFieldMessageID])
	assert.Equal(t, "user123456", fields[LogFieldSenderID])
	assert.Equal(t, "hello world", fields[LogFieldContent])
}

func TestLogMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	LogMessage(context.Background(), logger, "outgoing", sampleMessage()).Info("Message delivered")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Message delivered", entry["msg"])
	assert.Equal(t, "outgoing", entry[LogFieldDirection])
	assert.Equal(t, "********89abcdef", entry[LogFieldMessageID])
	assert.NotContains(t, buf.String(), "hello world")
	assert.NotContains(t, buf.String(), privacy.HiddenContent)
}
