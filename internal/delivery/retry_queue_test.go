package delivery

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "meshbridge/internal/errors"
	"meshbridge/internal/metrics"
	"meshbridge/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func pendingMessage(id string, ts time.Time) *models.UnifiedMessage {
	return &models.UnifiedMessage{
		ID:          id,
		Type:        models.MessageTypeDirect,
		SenderID:    "U1",
		RecipientID: "U2",
		Content:     "retry me",
		Timestamp:   ts,
		Status:      models.StatusPending,
	}
}

func retryConfig() models.MessagingConfig {
	return models.MessagingConfig{RetryAttempts: 3, RetryDelaySec: 30}
}

func TestRetryQueue_Enqueue(t *testing.T) {
	q := NewRetryQueue(&mockRouter{}, retryConfig(), testLogger(), metrics.NewRegistry())
	msg := pendingMessage("m1", time.Now())

	assert.True(t, q.Enqueue(msg))
	assert.False(t, q.Enqueue(msg), "duplicate IDs are ignored")
	assert.True(t, q.Contains("m1"))
	assert.Equal(t, 1, q.Len())

	sent := pendingMessage("m2", time.Now())
	sent.Status = models.StatusSent
	assert.False(t, q.Enqueue(sent))
	assert.False(t, q.Contains("m2"))
}

func TestRetryQueue_EnqueueStoresCopy(t *testing.T) {
	router := &mockRouter{}
	q := NewRetryQueue(router, retryConfig(), testLogger(), metrics.NewRegistry())
	t0 := time.Now()
	msg := pendingMessage("m1", t0)
	require.True(t, q.Enqueue(msg))

	router.On("Route", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("down"))
	q.ProcessRetries(context.Background(), t0.Add(31*time.Second))

	assert.Equal(t, 0, msg.RetryCount, "caller's message is untouched by the sweep")
}

func TestRetryQueue_NotDueBeforeDelay(t *testing.T) {
	router := &mockRouter{}
	q := NewRetryQueue(router, retryConfig(), testLogger(), metrics.NewRegistry())
	t0 := time.Now()
	q.Enqueue(pendingMessage("m1", t0))

	result, ran := q.ProcessRetries(context.Background(), t0.Add(30*time.Second))
	assert.True(t, ran)
	assert.Equal(t, 0, result.Attempted)
	router.AssertNotCalled(t, "Route", mock.Anything, mock.Anything, mock.Anything)
}

func TestRetryQueue_SuccessRemovesMessage(t *testing.T) {
	router := &mockRouter{}
	registry := metrics.NewRegistry()
	q := NewRetryQueue(router, retryConfig(), testLogger(), registry)
	t0 := time.Now()
	q.Enqueue(pendingMessage("m1", t0))

	router.On("Route", mock.Anything, mock.Anything, mock.MatchedBy(func(opts models.DeliveryOptions) bool {
		return !opts.RetryEnabled()
	})).Run(func(args mock.Arguments) {
		msg := args.Get(1).(*models.UnifiedMessage)
		msg.DeliveryMethod = models.DeliveryStore
		require.NoError(t, msg.Transition(models.StatusSent))
	}).Return(nil)

	var settled []*models.UnifiedMessage
	q.OnSettled(func(m *models.UnifiedMessage) { settled = append(settled, m) })

	result, ran := q.ProcessRetries(context.Background(), t0.Add(31*time.Second))
	require.True(t, ran)
	assert.Equal(t, SweepResult{Attempted: 1, Succeeded: 1}, result)
	assert.False(t, q.Contains("m1"))
	require.Len(t, settled, 1)
	assert.Equal(t, models.StatusSent, settled[0].Status)
	assert.Equal(t, 1, settled[0].RetryCount)
	require.NotNil(t, settled[0].LastRetry)
	assert.Equal(t, 1.0, registry.CounterValue(metrics.RetryAttempts, map[string]string{"outcome": "success"}))
	assert.Equal(t, 1.0, registry.CounterValue(metrics.RetrySweeps, nil))
}

func TestRetryQueue_ExhaustsAfterLimit(t *testing.T) {
	router := &mockRouter{}
	registry := metrics.NewRegistry()
	q := NewRetryQueue(router, retryConfig(), testLogger(), registry)
	router.On("Route", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("still down"))

	var settled *models.UnifiedMessage
	q.OnSettled(func(m *models.UnifiedMessage) { settled = m })

	t0 := time.Now()
	q.Enqueue(pendingMessage("m1", t0))

	now := t0
	for i := 1; i <= 2; i++ {
		now = now.Add(31 * time.Second)
		result, _ := q.ProcessRetries(context.Background(), now)
		assert.Equal(t, 1, result.Attempted)
		assert.Equal(t, 0, result.Exhausted)
		assert.True(t, q.Contains("m1"), "sweep %d keeps the message", i)
	}

	now = now.Add(31 * time.Second)
	result, _ := q.ProcessRetries(context.Background(), now)
	assert.Equal(t, SweepResult{Attempted: 1, Exhausted: 1}, result)
	assert.False(t, q.Contains("m1"))
	require.NotNil(t, settled)
	assert.Equal(t, models.StatusFailed, settled.Status)
	assert.Equal(t, 3, settled.RetryCount)
	assert.Equal(t, 1.0, registry.CounterValue(metrics.RetryExhausted, nil))
	router.AssertNumberOfCalls(t, "Route", 3)
}

func TestRetryQueue_DelayMeasuredFromLastRetry(t *testing.T) {
	router := &mockRouter{}
	q := NewRetryQueue(router, retryConfig(), testLogger(), metrics.NewRegistry())
	router.On("Route", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("down"))

	t0 := time.Now()
	q.Enqueue(pendingMessage("m1", t0))
	q.ProcessRetries(context.Background(), t0.Add(31*time.Second))

	result, _ := q.ProcessRetries(context.Background(), t0.Add(45*time.Second))
	assert.Equal(t, 0, result.Attempted)
	router.AssertNumberOfCalls(t, "Route", 1)
}

func TestRetryQueue_PerMessageLimit(t *testing.T) {
	router := &mockRouter{}
	q := NewRetryQueue(router, retryConfig(), testLogger(), metrics.NewRegistry())
	router.On("Route", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("down"))

	t0 := time.Now()
	msg := pendingMessage("m1", t0)
	msg.RetryLimit = 1
	q.Enqueue(msg)

	result, _ := q.ProcessRetries(context.Background(), t0.Add(31*time.Second))
	assert.Equal(t, 1, result.Exhausted)
	assert.Equal(t, 0, q.Len())
}

func TestRetryQueue_ExhaustedOnEntry(t *testing.T) {
	router := &mockRouter{}
	q := NewRetryQueue(router, retryConfig(), testLogger(), metrics.NewRegistry())

	t0 := time.Now()
	msg := pendingMessage("m1", t0)
	msg.RetryCount = 3
	q.Enqueue(msg)

	var settled *models.UnifiedMessage
	q.OnSettled(func(m *models.UnifiedMessage) { settled = m })

	result, _ := q.ProcessRetries(context.Background(), t0)
	assert.Equal(t, SweepResult{Exhausted: 1}, result)
	assert.Equal(t, 0, q.Len())
	require.NotNil(t, settled)
	assert.Equal(t, models.StatusFailed, settled.Status)
	router.AssertNotCalled(t, "Route", mock.Anything, mock.Anything, mock.Anything)
}

func TestRetryQueue_ConcurrentSweepIsNoop(t *testing.T) {
	router := &mockRouter{}
	q := NewRetryQueue(router, retryConfig(), testLogger(), metrics.NewRegistry())

	entered := make(chan struct{})
	release := make(chan struct{})
	router.On("Route", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(nil)

	t0 := time.Now()
	q.Enqueue(pendingMessage("m1", t0))
	now := t0.Add(31 * time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.ProcessRetries(context.Background(), now)
	}()

	<-entered
	_, ran := q.ProcessRetries(context.Background(), now)
	assert.False(t, ran)

	close(release)
	wg.Wait()
	router.AssertNumberOfCalls(t, "Route", 1)
}

func TestRetryQueue_StopsOnCancelledContext(t *testing.T) {
	router := &mockRouter{}
	q := NewRetryQueue(router, retryConfig(), testLogger(), metrics.NewRegistry())

	t0 := time.Now()
	q.Enqueue(pendingMessage("m1", t0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, ran := q.ProcessRetries(ctx, t0.Add(time.Minute))
	assert.True(t, ran)
	assert.Equal(t, 0, result.Attempted)
	assert.True(t, q.Contains("m1"))
}

func TestNewRetryQueue_Defaults(t *testing.T) {
	q := NewRetryQueue(&mockRouter{}, models.MessagingConfig{}, testLogger(), nil)
	assert.Equal(t, 3, q.defaultLimit)
	assert.Equal(t, 30*time.Second, q.delay)
}

func TestRetryQueue_FailedAttemptLogsRetryability(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		level     string
		retryable string
	}{
		{"transient store", apperrors.NewTransientStoreError("m1", errors.New("locked")), `"level":"warning"`, `"retryable":true`},
		{"unsupported type", apperrors.NewUnsupportedTypeError("system"), `"level":"error"`, `"retryable":false`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := logrus.New()
			logger.SetFormatter(&logrus.JSONFormatter{})
			logger.SetOutput(&buf)

			router := &mockRouter{}
			router.On("Route", mock.Anything, mock.Anything, mock.Anything).Return(tt.err)
			q := NewRetryQueue(router, retryConfig(), logger, metrics.NewRegistry())

			t0 := time.Now()
			q.Enqueue(pendingMessage("m1", t0))
			result, ran := q.ProcessRetries(context.Background(), t0.Add(31*time.Second))
			require.True(t, ran)
			assert.Equal(t, 1, result.Attempted)
			assert.True(t, q.Contains("m1"))

			out := buf.String()
			assert.Contains(t, out, "Retry attempt failed")
			assert.Contains(t, out, tt.level)
			assert.Contains(t, out, tt.retryable)
		})
	}
}
