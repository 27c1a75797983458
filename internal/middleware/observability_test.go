package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"meshbridge/internal/metrics"
	"meshbridge/internal/service"
	"meshbridge/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger, &buf
}

func newRouter(logger *logrus.Logger, registry *metrics.Registry, h http.HandlerFunc) *mux.Router {
	router := mux.NewRouter()
	router.Use(ObservabilityMiddleware(logger, registry))
	router.HandleFunc("/api/items/{id}", h).Methods(http.MethodGet)
	return router
}

func TestObservabilityMiddleware_RecordsRequest(t *testing.T) {
	logger, buf := newTestLogger()
	registry := metrics.NewRegistry()

	var seenRequestID string
	router := newRouter(logger, registry, func(w http.ResponseWriter, r *http.Request) {
		seenRequestID = tracing.GetRequestID(r.Context())
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/items/42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, seenRequestID)
	assert.Equal(t, seenRequestID, rec.Header().Get(RequestIDHeader))

	labels := map[string]string{"method": "GET", "route": "/api/items/{id}", "status_code": "201"}
	assert.Equal(t, 1.0, registry.CounterValue(metrics.HTTPRequests, labels))
	assert.Equal(t, int64(1), registry.TimerCount(metrics.HTTPRequestLatency, map[string]string{
		"method": "GET",
		"route":  "/api/items/{id}",
	}))

	out := buf.String()
	assert.Contains(t, out, "HTTP request completed")
	assert.Contains(t, out, `"size_bytes":7`)
	assert.NotContains(t, out, "/api/items/42")
}

func TestObservabilityMiddleware_KeepsIncomingRequestID(t *testing.T) {
	logger, _ := newTestLogger()
	router := newRouter(logger, metrics.NewRegistry(), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-from-client", tracing.GetRequestID(r.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/items/1", nil)
	req.Header.Set(RequestIDHeader, "req-from-client")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "req-from-client", rec.Header().Get(RequestIDHeader))
}

func TestObservabilityMiddleware_LogLevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, `"level":"info"`},
		{http.StatusBadRequest, `"level":"warning"`},
		{http.StatusServiceUnavailable, `"level":"error"`},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			logger, buf := newTestLogger()
			router := newRouter(logger, metrics.NewRegistry(), func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/items/1", nil))

			assert.Contains(t, buf.String(), tt.level)
		})
	}
}

func TestObservabilityMiddleware_UnmatchedRoute(t *testing.T) {
	logger, _ := newTestLogger()
	registry := metrics.NewRegistry()
	handler := ObservabilityMiddleware(logger, registry)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 1.0, registry.CounterValue(metrics.HTTPRequests, map[string]string{
		"method": "GET", "route": "unmatched", "status_code": "404",
	}))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "10.0.0.1:1234", "203.0.113.5"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.1:1234", "198.51.100.7"},
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"ipv6 remote addr", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"no port", nil, "192.0.2.9", "192.0.2.9"},
		{"empty forwarded entry", map[string]string{"X-Forwarded-For": " ,10.0.0.2"}, "192.0.2.1:80", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}

func TestIdentityMiddleware(t *testing.T) {
	t.Run("sets sender and verbose", func(t *testing.T) {
		var sender string
		var verbose bool
		handler := IdentityMiddleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sender = service.SenderFromContext(r.Context())
			verbose = service.IsVerboseLogging(r.Context())
		}))

		req := httptest.NewRequest(http.MethodPost, "/api/messages", nil)
		req.Header.Set(UserIDHeader, "user-7")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, "user-7", sender)
		assert.True(t, verbose)
	})

	t.Run("no header leaves context alone", func(t *testing.T) {
		var sender string
		var verbose bool
		handler := IdentityMiddleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sender = service.SenderFromContext(r.Context())
			verbose = service.IsVerboseLogging(r.Context())
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/messages", nil))

		assert.Empty(t, sender)
		assert.False(t, verbose)
	})
}
