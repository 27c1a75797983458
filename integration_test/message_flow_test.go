package integration_test

import (
	"testing"
	"time"

	"meshbridge/internal/mesh"
	"meshbridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageFlow_StoreOnly(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{StoreOnline: true})

	msg, err := env.Service.SendMessage(env.Context(), "meet at the lake", directTo("friend-1"), models.DeliveryOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, models.DeliveryStore, msg.DeliveryMethod)

	records := waitForDirectMessages(t, env, "friend-1", 1)
	assert.Equal(t, LocalUserID, records[0].SenderID)
	assert.Equal(t, "meet at the lake", records[0].Content)
	assert.Equal(t, "text", records[0].MessageType)

	assert.Equal(t, models.QueueStats{}, env.Service.GetQueueStats())
}

func TestMessageFlow_HybridReachesBothPaths(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{MeshEnabled: true, MeshAsFallback: true, StoreOnline: true})

	status := env.Service.GetConnectionStatus()
	require.True(t, status.Mesh.Initialized)
	require.True(t, status.Mesh.Transports[mesh.TransportName])

	msg, err := env.Service.SendMessage(env.Context(), "gratitude circle tonight", circlePost("circle-9"), models.DeliveryOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryHybrid, msg.DeliveryMethod)
	assert.True(t, msg.Status.IsSuccess(), "status %s", msg.Status)

	// The losing branch is not cancelled, so both paths complete.
	posts := waitForCirclePosts(t, env, "circle-9", 1)
	assert.Equal(t, "gratitude circle tonight", posts[0].Content)
	assert.Equal(t, "circle", posts[0].Visibility)

	frame := env.Relay.NextFrame(t)
	assert.Equal(t, mesh.FrameSend, frame.Type)
	assert.Empty(t, frame.To)
	assert.Equal(t, "gratitude circle tonight", frame.Payload.Note)
	assert.Equal(t, 3, frame.Payload.HopLimit)
	assert.NotEmpty(t, frame.Payload.Tokens)
}

func TestMessageFlow_StoreOfflineUsesMesh(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{MeshEnabled: true, MeshAsFallback: true, StoreOnline: false})

	msg, err := env.Service.SendMessage(env.Context(), "are you safe", directTo("friend-2"), models.DeliveryOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryMesh, msg.DeliveryMethod)
	assert.Equal(t, models.StatusMeshQueued, msg.Status)

	frame := env.Relay.NextFrame(t)
	assert.Equal(t, "friend-2", frame.To)
	assert.Equal(t, "are you safe", frame.Payload.Note)
	assert.Equal(t, 3600, frame.Payload.TTL)
}

func TestMessageFlow_PreferMesh(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{MeshEnabled: true, StoreOnline: true})

	msg, err := env.Service.SendMessage(env.Context(), "offline hello", directTo("friend-3"), models.DeliveryOptions{PreferMesh: true})
	require.NoError(t, err)
	assert.Equal(t, models.StatusMeshQueued, msg.Status)

	frame := env.Relay.NextFrame(t)
	assert.Equal(t, "friend-3", frame.To)

	records, err := env.DB.DirectMessagesFor(env.Context(), "friend-3", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMessageFlow_InboundReconciledIntoStore(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{MeshEnabled: true, StoreOnline: true})

	env.Relay.Deliver(t, mesh.Frame{
		Type: mesh.FrameDeliver,
		From: "peer-remote",
		Payload: mesh.Payload{
			Tokens:         []string{"hello", "from", "mesh"},
			IntentStrength: 0.9,
			Note:           "hello from the mesh",
			TTL:            600,
			HopLimit:       4,
		},
	})

	inbound := env.NextInbound()
	assert.Equal(t, models.MessageTypeDirect, inbound.Type)
	assert.Equal(t, "peer-remote", inbound.SenderID)
	assert.Equal(t, LocalUserID, inbound.RecipientID)
	assert.Equal(t, models.StatusDelivered, inbound.Status)
	require.NotNil(t, inbound.MeshPayload)
	assert.Equal(t, 4, inbound.MeshPayload.HopLimit)

	records := waitForDirectMessages(t, env, LocalUserID, 1)
	assert.Equal(t, "peer-remote", records[0].SenderID)
	assert.Equal(t, "hello from the mesh", records[0].Content)
}

func TestMessageFlow_RetriedWhenStoreReturns(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{StoreOnline: false, RetryDelaySec: 1})

	msg, err := env.Service.SendMessage(env.Context(), "journal while offline", directTo("friend-4"), models.DeliveryOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, msg.Status)
	assert.Equal(t, models.QueueStats{RetryQueue: 1, TotalPending: 1}, env.Service.GetQueueStats())

	// Retries only pick up messages older than the retry delay.
	time.Sleep(1100 * time.Millisecond)
	env.Provider.Set(true)

	waitForDirectMessages(t, env, "friend-4", 1)
	require.Eventually(t, func() bool {
		return env.Service.GetQueueStats() == models.QueueStats{}
	}, waitTimeout, waitTick)
	assert.True(t, env.Service.GetConnectionStatus().Store)
}

func TestMessageFlow_QueueThenFlush(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{StoreOnline: true})

	queued, err := env.Service.QueueMessage(env.Context(), "later please", directTo("friend-5"), models.DeliveryOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, queued.Status)
	assert.Equal(t, 1, env.Service.GetQueueStats().MessageQueue)

	result := env.Service.FlushOnce(env.Context())
	assert.Equal(t, 1, result.Drained)
	assert.Equal(t, 1, result.Delivered)

	waitForDirectMessages(t, env, "friend-5", 1)
}
