package integration_test

import (
	"context"
	"testing"
	"time"

	"meshbridge/internal/models"

	"github.com/stretchr/testify/require"
)

const (
	waitTimeout = 5 * time.Second
	waitTick    = 20 * time.Millisecond
)

// directTo addresses a direct message.
func directTo(recipientID string) models.MessageContext {
	return models.MessageContext{Type: models.MessageTypeDirect, TargetID: recipientID}
}

// circlePost addresses a circle post.
func circlePost(circleID string) models.MessageContext {
	return models.MessageContext{Type: models.MessageTypeCircle, TargetID: circleID, Visibility: models.VisibilityCircle}
}

// waitForDirectMessages waits until recipientID has n stored direct messages.
func waitForDirectMessages(t *testing.T, env *TestEnvironment, recipientID string, n int) []models.DirectMessageRecord {
	t.Helper()
	var records []models.DirectMessageRecord
	require.Eventually(t, func() bool {
		var err error
		records, err = env.DB.DirectMessagesFor(context.Background(), recipientID, 50)
		return err == nil && len(records) == n
	}, waitTimeout, waitTick)
	return records
}

// waitForCirclePosts waits until circleID has n stored posts.
func waitForCirclePosts(t *testing.T, env *TestEnvironment, circleID string, n int) []models.CirclePostRecord {
	t.Helper()
	var records []models.CirclePostRecord
	require.Eventually(t, func() bool {
		var err error
		records, err = env.DB.CirclePostsFor(context.Background(), circleID, 50)
		return err == nil && len(records) == n
	}, waitTimeout, waitTick)
	return records
}
