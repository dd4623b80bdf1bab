package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"beam/internal/constants"
	"beam/internal/errors"
	"beam/internal/httputil"
	"beam/internal/middleware"
	"beam/internal/models"
	"beam/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// path parameters accept the same characters as the device and item ID formats
const (
	deviceIDVar = "{deviceId:[A-Za-z0-9_-]+}"
	itemIDVar   = "{itemId:[A-Za-z0-9_-]+}"
)

type Server struct {
	router   *mux.Router
	handler  http.Handler
	logger   *logrus.Logger
	cfg      *models.Config
	devices  *service.DeviceService
	inbox    *service.InboxService
	vapidKey string
	verbose  bool
	server   *http.Server
}

// NewServer wires the HTTP API. vapidKey is empty when push is disabled.
func NewServer(cfg *models.Config, devices *service.DeviceService, inbox *service.InboxService, vapidKey string, verbose bool, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		devices:  devices,
		inbox:    inbox,
		vapidKey: vapidKey,
		verbose:  verbose,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	chain := []mux.MiddlewareFunc{
		middleware.ObservabilityMiddleware(s.logger, s.cfg.Server.TrustProxyHeaders),
		middleware.RecoveryMiddleware(s.logger),
		middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()),
		s.verboseMiddleware,
	}
	s.router.Use(chain...)

	// unmatched requests bypass router middleware, so they get the chain explicitly
	s.router.NotFoundHandler = wrap(s.handleNotFound(), chain)
	s.router.MethodNotAllowedHandler = wrap(s.handleMethodNotAllowed(), chain)

	s.router.HandleFunc("/healthz", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/devices", s.handleRegister()).Methods(http.MethodPost)
	v1.HandleFunc("/devices/"+deviceIDVar+"/rotate-key", s.handleRotateKey()).Methods(http.MethodPost)
	v1.HandleFunc("/devices/"+deviceIDVar+"/pending", s.handleListPending()).Methods(http.MethodGet)
	v1.HandleFunc("/inbox/"+deviceIDVar, s.handleEnqueue()).Methods(http.MethodPost)
	v1.HandleFunc("/items/"+itemIDVar+"/ack", s.handleAck()).Methods(http.MethodPost)
	v1.HandleFunc("/vapid-public-key", s.handleVAPIDPublicKey()).Methods(http.MethodGet)

	s.handler = s.router
}

func wrap(h http.Handler, chain []mux.MiddlewareFunc) http.Handler {
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h
}

func (s *Server) verboseMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), service.VerboseContextKey, s.verbose)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
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
	if err := s.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// decodeJSON reads a size-limited JSON body into dst
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if stderrors.Is(err, io.EOF) {
			err = stderrors.New("Unexpected end of JSON input")
		}
		return errors.NewBodyParseError(err)
	}
	return nil
}

func inboxKey(r *http.Request) string {
	return r.Header.Get(constants.HeaderInboxKey)
}

// Handler implementations
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"service": constants.ServiceName,
		})
	}
}

func (s *Server) handleNotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, errors.New(errors.ErrCodeRouterNotFound, "Not found"))
	}
}

func (s *Server) handleMethodNotAllowed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, errors.New(errors.ErrCodeRouterMethod, "Method not allowed"))
	}
}

func (s *Server) handleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.RegisterRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}

		result, err := s.devices.Register(r.Context(), req)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		status := http.StatusCreated
		if result.Updated {
			status = http.StatusOK
		}
		httputil.WriteJSON(w, status, result)
	}
}

func (s *Server) handleRotateKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		device, err := s.devices.Authenticate(r.Context(), mux.Vars(r)["deviceId"], inboxKey(r))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		var req service.RotateRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}

		if err := s.devices.RotateKey(r.Context(), device, req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"rotated": true})
	}
}

func (s *Server) handleEnqueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		device, err := s.devices.Authenticate(r.Context(), mux.Vars(r)["deviceId"], inboxKey(r))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		var req service.EnqueueRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}

		clientIP := httputil.GetClientIP(r, s.cfg.Server.TrustProxyHeaders)
		result, err := s.inbox.Enqueue(r.Context(), device, clientIP, req)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, result)
	}
}

func (s *Server) handleListPending() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := s.inbox.List(r.Context(), mux.Vars(r)["deviceId"], inboxKey(r))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if items == nil {
			items = []models.PendingItem{}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
	}
}

func (s *Server) handleAck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.inbox.Acknowledge(r.Context(), mux.Vars(r)["itemId"], inboxKey(r))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleVAPIDPublicKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.vapidKey == "" {
			httputil.WriteError(w, errors.New(errors.ErrCodeRouterNotFound, "Push is not configured"))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"publicKey": s.vapidKey})
	}
}
