package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"smsrelay/internal/constants"
	"smsrelay/internal/errors"
	"smsrelay/internal/metrics"
	"smsrelay/internal/middleware"
	"smsrelay/internal/models"
	"smsrelay/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// StatusReporter exposes the live poller state
type StatusReporter interface {
	Status() models.Status
}

type Server struct {
	router  *mux.Router
	logger  *logrus.Logger
	errLog  *errors.Logger
	store   service.Store
	poller  StatusReporter
	metrics *metrics.Registry
	config  *models.Config
	phone   string
	verbose bool
	server  *http.Server
	now     func() time.Time
}

func NewServer(cfg *models.Config, store service.Store, poller StatusReporter, registry *metrics.Registry, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  logger,
		errLog:  errors.NewLogger(logger),
		store:   store,
		poller:  poller,
		metrics: registry,
		config:  cfg,
		phone:   cfg.PhoneNumber(),
		verbose: verbose,
		now:     time.Now,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger, s.metrics, s.config.Server.TrustProxy))
	if s.verbose {
		s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))
	}

	s.router.HandleFunc("/", s.handleRoot()).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/last-sms", s.handleLastSMS()).Methods(http.MethodGet)
	api.HandleFunc("/last-code", s.handleLastCode()).Methods(http.MethodGet)
	api.HandleFunc("/last-code-from/{fromNumber}", s.handleLastCodeFrom()).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(constants.DefaultServerWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %s", s.config.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
