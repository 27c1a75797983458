package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(true)
	assert.True(t, p.Online())

	var events []bool
	unsubscribe := p.Subscribe(func(online bool) { events = append(events, online) })

	p.Set(true)
	p.Set(false)
	p.Set(false)
	p.Set(true)
	assert.Equal(t, []bool{false, true}, events)

	unsubscribe()
	unsubscribe()
	p.Set(false)
	assert.Len(t, events, 2)
	assert.False(t, p.Online())
}

func TestHTTPCheck(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	check := HTTPCheck(nil, srv.URL)
	assert.NoError(t, check(context.Background()))

	status.Store(http.StatusServiceUnavailable)
	assert.ErrorContains(t, check(context.Background()), "503")
}

func TestProbeProvider_EmitsTransitions(t *testing.T) {
	var failing atomic.Bool
	check := func(ctx context.Context) error {
		if failing.Load() {
			return errors.New("unreachable")
		}
		return nil
	}
	p := NewProbeProvider(check, time.Hour, time.Second, testLogger())

	events := make(chan bool, 4)
	p.Subscribe(func(online bool) { events <- online })

	ctx := context.Background()
	assert.True(t, p.Probe(ctx))
	assert.Empty(t, events)

	failing.Store(true)
	assert.False(t, p.Probe(ctx))
	assert.False(t, p.Online())
	assert.Equal(t, false, <-events)

	failing.Store(false)
	assert.True(t, p.Probe(ctx))
	assert.Equal(t, true, <-events)
}

func TestProbeProvider_StartStop(t *testing.T) {
	var calls atomic.Int32
	p := NewProbeProvider(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, 10*time.Millisecond, time.Second, testLogger())

	p.Start(context.Background())
	p.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()
	p.Stop()

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestNewHTTPProbeProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProbeProvider(srv.URL, time.Hour, time.Second, testLogger())
	assert.True(t, p.Online())
	assert.False(t, p.Probe(context.Background()))
}
