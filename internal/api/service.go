// Package api exposes the record store, the sync queue and the staff
// directory over HTTP. Every route is gated by the caller's permissions.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sugreev38/v0-hospital-emr-software/internal/auth"
	"github.com/sugreev38/v0-hospital-emr-software/internal/connectivity"
	"github.com/sugreev38/v0-hospital-emr-software/internal/store"
	"github.com/sugreev38/v0-hospital-emr-software/internal/syncengine"
	"github.com/sugreev38/v0-hospital-emr-software/internal/syncqueue"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/config"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/monitoring"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

// Deps are the components served by the API
type Deps struct {
	Store     *store.Store
	Queue     *syncqueue.Queue
	Engine    *syncengine.Engine
	Monitor   *connectivity.Monitor
	Directory *auth.Directory

	// Tokens validates bearer tokens. When nil every request acts as
	// LocalUser.
	Tokens    *auth.TokenValidator
	LocalUser *types.User

	// Limiter bounds requests per caller. Nil disables limiting.
	Limiter *RateLimiter

	Health  *monitoring.HealthManager
	Metrics *monitoring.MetricsCollector
	Tracing *monitoring.TracingManager
	Logger  *logger.Logger
}

// Service is the HTTP front of the sync service
type Service struct {
	router *mux.Router
	server *http.Server

	store     *store.Store
	queue     *syncqueue.Queue
	engine    *syncengine.Engine
	monitor   *connectivity.Monitor
	directory *auth.Directory
	tokens    *auth.TokenValidator
	localUser *types.User
	limiter   *RateLimiter

	health  *monitoring.HealthManager
	metrics *monitoring.MetricsCollector
	tracing *monitoring.TracingManager
	logger  *logger.Logger

	healthPath  string
	metricsPath string
}

// NewService creates the API service
func NewService(srv config.ServerConfig, mon config.MonitoringConfig, deps Deps) *Service {
	router := mux.NewRouter()

	s := &Service{
		router:      router,
		store:       deps.Store,
		queue:       deps.Queue,
		engine:      deps.Engine,
		monitor:     deps.Monitor,
		directory:   deps.Directory,
		tokens:      deps.Tokens,
		localUser:   deps.LocalUser,
		limiter:     deps.Limiter,
		health:      deps.Health,
		metrics:     deps.Metrics,
		tracing:     deps.Tracing,
		logger:      deps.Logger,
		healthPath:  mon.HealthPath,
		metricsPath: mon.MetricsPath,
	}
	if s.healthPath == "" {
		s.healthPath = "/health"
	}
	if s.metricsPath == "" {
		s.metricsPath = "/metrics"
	}
	if s.tracing == nil {
		s.tracing = monitoring.NewTracingManager("emr-sync-api")
	}

	s.server = &http.Server{
		Addr:         srv.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(srv.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(srv.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(srv.IdleTimeout) * time.Second,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the routed handler, for tests and embedding
func (s *Service) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called
func (s *Service) Start() error {
	s.logger.WithComponent("api").WithField("addr", s.server.Addr).Info("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down, waiting for in-flight requests
func (s *Service) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	s.logger.WithComponent("api").Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

func (s *Service) setupRoutes() {
	// Preflight requests are answered by corsMiddleware.
	s.router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	if s.health != nil {
		s.router.HandleFunc(s.healthPath, s.health.HTTPHandler()).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		s.router.Handle(s.metricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/sync/status", s.handleSyncStatus).Methods(http.MethodGet)
	v1.HandleFunc("/sync/drain", s.handleDrain).Methods(http.MethodPost)
	v1.HandleFunc("/sync/queue", s.handleListQueue).Methods(http.MethodGet)
	v1.HandleFunc("/sync/retry-failed", s.handleRetryFailed).Methods(http.MethodPost)

	v1.HandleFunc("/connectivity", s.handleGetConnectivity).Methods(http.MethodGet)
	v1.HandleFunc("/connectivity", s.handleSetConnectivity).Methods(http.MethodPut)

	v1.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	v1.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)

	v1.HandleFunc("/patients/{id}/{collection}", s.handlePatientCollection).Methods(http.MethodGet)

	v1.HandleFunc("/{collection}", s.handleList).Methods(http.MethodGet)
	v1.HandleFunc("/{collection}", s.handleCreate).Methods(http.MethodPost)
	v1.HandleFunc("/{collection}/{id}", s.handleGet).Methods(http.MethodGet)
	v1.HandleFunc("/{collection}/{id}", s.handleUpdate).Methods(http.MethodPut)
	v1.HandleFunc("/{collection}/{id}", s.handleDelete).Methods(http.MethodDelete)
}

func (s *Service) setupMiddleware() {
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.securityHeadersMiddleware)
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.tracing.HTTPMiddleware)
	if s.metrics != nil {
		s.router.Use(s.metrics.HTTPMiddleware(routeTemplate))
	}
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.authMiddleware)
	if s.limiter != nil {
		s.router.Use(s.rateLimitMiddleware)
	}
}

// routeTemplate labels a request by its matched route, not its raw path
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
