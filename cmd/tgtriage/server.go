package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tgtriage/internal/constants"
	apperrors "tgtriage/internal/errors"
	"tgtriage/internal/hub"
	"tgtriage/internal/middleware"
	"tgtriage/internal/models"
	"tgtriage/internal/security"
	"tgtriage/internal/service"
	"tgtriage/internal/tracing"
	"tgtriage/internal/validation"
	"tgtriage/pkg/telegram/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	signatureHeader  = "X-Gateway-Signature"
	maxJSONBodyBytes = 64 * 1024

	healthCheckTimeout = 2 * time.Second
)

// storeHealth is what the health and metrics endpoints read from the login store
type storeHealth interface {
	Ping(ctx context.Context) error
	CountPendingLogins(ctx context.Context) (int, error)
}

type Server struct {
	cfg     *models.Config
	router  *mux.Router
	handler http.Handler
	logger  *logrus.Logger
	errLog  *apperrors.Logger
	triage  *service.TriageService
	inbound *service.Router
	hub     *hub.Hub
	store   storeHealth
	server  *http.Server
	routes  []string
}

func NewServer(cfg *models.Config, triage *service.TriageService, inbound *service.Router, h *hub.Hub, store storeHealth, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		logger:  logger,
		errLog:  apperrors.FromLogrus(logger),
		triage:  triage,
		inbound: inbound,
		hub:     h,
		store:   store,
	}

	s.setupRoutes()
	// CORS sits outside the router so preflights never hit method matching
	s.handler = middleware.CORSMiddleware(cfg.Server.AllowedOrigins)(s.router)
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))

	s.handle("/", s.handleIndex(), http.MethodGet)
	s.handle("/healthz", s.handleHealth(), http.MethodGet)
	s.handle("/metrics", s.handleMetrics(), http.MethodGet)

	for _, p := range []string{"/auth/send_code", "/auth/send_code/"} {
		s.handle(p, s.handleSendCode(), http.MethodPost)
	}
	for _, p := range []string{"/auth/sign_in", "/auth/sign_in/"} {
		s.handle(p, s.handleSignIn(), http.MethodPost)
	}

	s.handle("/me", s.handleMe(), http.MethodGet)
	s.handle("/dialogs", s.handleDialogs(), http.MethodGet)
	s.handle("/messages", s.handleMessages(), http.MethodGet)
	s.handle("/chat_info", s.handleChatInfo(), http.MethodGet)
	s.handle("/send_message", s.handleSendMessage(), http.MethodPost)
	s.handle("/queue", s.handleQueue(), http.MethodGet)
	s.handle("/queue/action", s.handleQueueAction(), http.MethodPost)
	s.handle("/resolve_contact", s.handleResolveContact(), http.MethodPost)

	wsHandler := hub.NewWSHandler(s.hub, s.cfg.Server.AllowedOrigins,
		time.Duration(s.cfg.Hub.WriteTimeoutMs)*time.Millisecond, s.logger)
	s.router.Handle("/ws", wsHandler).Methods(http.MethodGet)
	s.routes = append(s.routes, "/ws")

	webhook := s.router.PathPrefix("/webhook/telegram").Subrouter()
	webhook.Use(middleware.WebhookObservabilityMiddleware(s.logger, "telegram"))
	webhook.HandleFunc("", s.handleTelegramWebhook()).Methods(http.MethodPost)
	s.routes = append(s.routes, "/webhook/telegram")

	s.mountFrontend()
}

func (s *Server) handle(path string, h http.HandlerFunc, method string) {
	s.router.HandleFunc(path, h).Methods(method)
	if !strings.HasSuffix(path, "/") || path == "/" {
		s.routes = append(s.routes, path)
	}
}

// mountFrontend serves the built operator UI under /app when the directory exists
func (s *Server) mountFrontend() {
	dir := s.cfg.Server.FrontendDir
	if dir == "" {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		s.logger.WithField("frontend_dir", dir).Warn("Frontend directory not found, /app is disabled")
		return
	}

	mount := constants.DefaultFrontendMountPath
	s.router.Handle(mount, http.RedirectHandler(mount+"/", http.StatusMovedPermanently)).Methods(http.MethodGet)
	s.router.PathPrefix(mount + "/").Handler(s.handleFrontend(dir, mount)).Methods(http.MethodGet, http.MethodHead)
	s.routes = append(s.routes, mount)
	s.logger.WithField("frontend_dir", dir).Info("Serving frontend")
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Handler implementations

func (s *Server) handleIndex() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, models.IndexResponse{
			Service:   "tgtriage",
			Status:    "ok",
			Endpoints: s.routes,
		})
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := s.store.Ping(ctx); err != nil {
			s.errLog.LogError(err, "Health check failed: database unreachable", logrus.Fields{
				"request_id": tracing.GetRequestID(r.Context()),
			})
			s.writeJSON(w, http.StatusServiceUnavailable, models.HealthResponse{OK: false})
			return
		}
		s.writeJSON(w, http.StatusOK, models.HealthResponse{OK: true})
	}
}

func (s *Server) handleSendCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.SendCodeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		resp, err := s.triage.SendCode(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleSignIn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.SignInRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		resp, err := s.triage.SignIn(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := accountParam(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, s.triage.Me(r.Context(), account))
	}
}

func (s *Server) handleDialogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := accountParam(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		limit, err := validation.ParseLimit(r.URL.Query().Get("limit"), constants.DefaultDialogsLimit, constants.MaxDialogsLimit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp, err := s.triage.Dialogs(r.Context(), account, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		account, err := accountParam(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		chatID, err := validation.ParseChatID(q.Get("chat_id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		limit, err := validation.ParseLimit(q.Get("limit"), constants.DefaultMessagesLimit, constants.MaxMessagesLimit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		beforeID, err := optionalInt64(q.Get("before_id"), "before_id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		resp, err := s.triage.Messages(r.Context(), account, chatID, limit, beforeID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleChatInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := accountParam(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		chatID, err := validation.ParseChatID(r.URL.Query().Get("chat_id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp, err := s.triage.ChatInfo(r.Context(), account, chatID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.SendMessageRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.ValidateAccountKey(req.Account); err != nil {
			s.writeError(w, r, err)
			return
		}
		resp, err := s.triage.SendMessage(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := accountParam(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp, err := s.triage.Queue(r.Context(), account)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleQueueAction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.QueueActionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.ValidateAccountKey(req.Account); err != nil {
			s.writeError(w, r, err)
			return
		}
		resp, err := s.triage.QueueAction(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleResolveContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.ResolveContactRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.ValidateAccountKey(req.Account); err != nil {
			s.writeError(w, r, err)
			return
		}
		resp, err := s.triage.ResolveContact(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

// handleTelegramWebhook accepts update batches pushed by the session gateway
// and routes them exactly like polled updates
func (s *Server) handleTelegramWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := validation.ValidateHTTPRequestSize(r, constants.MaxWebhookBodyBytes); err != nil {
			s.writeError(w, r, err)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, constants.MaxWebhookBodyBytes)

		body, err := verifySignature(r, s.cfg.Server.WebhookSecret, signatureHeader)
		if err != nil {
			s.writeError(w, r, apperrors.NewAuthError(err.Error()))
			return
		}

		account, err := accountParam(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		var batch types.UpdateBatch
		if err := json.Unmarshal(body, &batch); err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid update batch").
				WithUserMessage("Invalid JSON body"))
			return
		}

		accepted := 0
		for _, update := range batch.Updates {
			if update.Message == nil {
				continue
			}
			switch s.inbound.OnInbound(r.Context(), account, update.Message) {
			case service.RouteQueuedOnly, service.RoutePublished:
				accepted++
			}
		}

		s.writeJSON(w, http.StatusOK, models.WebhookResponse{OK: true, Accepted: accepted})
	}
}

// handleFrontend serves files from dir and falls back to index.html so the
// single-page app can own client-side routes
func (s *Server) handleFrontend(dir, mount string) http.Handler {
	index := filepath.Join(dir, "index.html")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		full, err := security.ResolveWithin(dir, strings.TrimPrefix(r.URL.Path, mount))
		if err != nil {
			s.writeError(w, r, apperrors.NewNotFoundError("file", r.URL.Path))
			return
		}
		if info, err := os.Stat(full); err != nil || info.IsDir() {
			full = index
		}
		http.ServeFile(w, r, full)
	})
}

// Helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := tracing.GetRequestID(r.Context())
	status := apperrors.HTTPStatusCode(err)

	fields := logrus.Fields{
		service.LogFieldRequestID:  requestID,
		service.LogFieldURL:        r.URL.Path,
		service.LogFieldStatusCode: status,
	}
	if status >= http.StatusInternalServerError {
		s.errLog.LogError(err, "Request failed", fields)
	} else {
		s.errLog.LogWarn(err, "Request rejected", fields)
	}

	s.writeJSON(w, status, apperrors.ToHTTPResponse(err, requestID))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err == io.EOF {
			return apperrors.NewRequiredError("request body is required")
		}
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid JSON body").
			WithUserMessage("Invalid JSON body")
	}
	return nil
}

func accountParam(r *http.Request) (string, error) {
	account := strings.TrimSpace(r.URL.Query().Get("account"))
	if err := validation.ValidateAccountKey(account); err != nil {
		return "", err
	}
	return account, nil
}

func optionalInt64(raw, field string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.NewValidationError(field, raw, "must be an integer")
	}
	return v, nil
}
