package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"meshbridge/internal/constants"
	"meshbridge/internal/database"
	apperrors "meshbridge/internal/errors"
	"meshbridge/internal/metrics"
	"meshbridge/internal/middleware"
	"meshbridge/internal/models"
	"meshbridge/internal/service"
	"meshbridge/internal/tracing"
	"meshbridge/internal/validation"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// RecordCounter reports how many records the store holds.
type RecordCounter interface {
	Counts(ctx context.Context) (database.RecordCounts, error)
}

type Server struct {
	router   *mux.Router
	cfg      models.ServerConfig
	logger   *logrus.Logger
	svc      service.MessagingService
	records  RecordCounter
	registry *metrics.Registry
	server   *http.Server
}

// sendRequest is the body of POST /api/messages and /api/messages/queue.
type sendRequest struct {
	Content     string                 `json:"content"`
	Type        models.MessageType     `json:"type"`
	TargetID    string                 `json:"targetId,omitempty"`
	Visibility  models.Visibility      `json:"visibility,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	PreferMesh  bool                   `json:"preferMesh"`
	EnableRetry *bool                  `json:"enableRetry,omitempty"`
	RetryLimit  int                    `json:"retryLimit,omitempty"`
	TimeoutMs   int                    `json:"timeoutMs,omitempty"`
}

type errorResponse struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   bool   `json:"store"`
	Mesh    bool   `json:"mesh"`
}

func NewServer(cfg models.ServerConfig, svc service.MessagingService, records RecordCounter, registry *metrics.Registry, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		cfg:      cfg,
		logger:   logger,
		svc:      svc,
		records:  records,
		registry: metrics.Or(registry),
	}
	s.setupRoutes(verbose)
	return s
}

func (s *Server) setupRoutes(verbose bool) {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger, s.registry))
	s.router.Use(middleware.IdentityMiddleware(verbose))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	// API routes stay on the root router; a subrouter answers a method
	// mismatch with 404 instead of 405.
	s.router.HandleFunc("/api/messages", s.handleSend(s.svc.SendMessage)).Methods(http.MethodPost)
	s.router.HandleFunc("/api/messages/queue", s.handleSend(s.svc.QueueMessage)).Methods(http.MethodPost)
	s.router.HandleFunc("/api/status", s.handleStatus()).Methods(http.MethodGet)
	s.router.HandleFunc("/api/queues", s.handleQueues()).Methods(http.MethodGet)
	s.router.HandleFunc("/api/records", s.handleRecords()).Methods(http.MethodGet)

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed,
			apperrors.New(apperrors.ErrCodeInvalidInput, fmt.Sprintf("method %s not allowed", r.Method)))
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := s.svc.GetConnectionStatus()
		s.writeJSON(w, r, http.StatusOK, healthResponse{
			Status:  "ok",
			Version: Version,
			Store:   status.Store,
			Mesh:    status.Mesh.Initialized,
		})
	}
}

type sendFunc func(ctx context.Context, content string, mctx models.MessageContext, opts models.DeliveryOptions) (*models.UnifiedMessage, error)

// handleSend answers 200 once a message is delivered and 202 when it is
// accepted but still pending or queued for retry.
func (s *Server) handleSend(send sendFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := validation.ValidateHTTPRequestSize(r, constants.MaxRequestBodyBytes); err != nil {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, err)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes)

		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body"))
			return
		}
		if err := validateSendRequest(req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}

		mctx := models.MessageContext{
			Type:       req.Type,
			TargetID:   req.TargetID,
			Visibility: req.Visibility,
			Metadata:   req.Metadata,
		}
		opts := models.DeliveryOptions{
			PreferMesh:  req.PreferMesh,
			EnableRetry: req.EnableRetry,
			RetryLimit:  req.RetryLimit,
			Timeout:     time.Duration(req.TimeoutMs) * time.Millisecond,
		}

		msg, err := send(r.Context(), req.Content, mctx, opts)
		if err != nil {
			s.writeError(w, r, statusForError(err), err)
			return
		}

		code := http.StatusAccepted
		if msg.Status.IsSuccess() {
			code = http.StatusOK
		}
		s.writeJSON(w, r, code, msg)
	}
}

func validateSendRequest(req sendRequest) error {
	if err := validation.ValidateStringLength(req.Content, "content", 0, constants.MaxContentLength); err != nil {
		return err
	}
	if req.TargetID != "" {
		if err := validation.ValidateIdentifier(req.TargetID, "targetId"); err != nil {
			return err
		}
	}
	return validation.ValidateDeliveryOptions(req.TimeoutMs, req.RetryLimit)
}

func statusForError(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidationFailed, apperrors.ErrCodeInvalidInput, apperrors.ErrCodeUnsupportedType:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotInitialized:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, s.svc.GetConnectionStatus())
	}
}

func (s *Server) handleQueues() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, s.svc.GetQueueStats())
	}
}

func (s *Server) handleRecords() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := s.records.Counts(r.Context())
		if err != nil {
			s.writeError(w, r, http.StatusServiceUnavailable, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to count records"))
			return
		}
		s.writeJSON(w, r, http.StatusOK, counts)
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		s.writeJSON(w, r, http.StatusOK, s.registry.GetAllMetrics())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithFields(logrus.Fields{
			service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
		}).WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
			service.LogFieldErrorCode: apperrors.GetCode(err),
		}).WithError(err).Error("Request failed")
	}
	s.writeJSON(w, r, code, errorResponse{Code: apperrors.GetCode(err), Message: err.Error()})
}
