// Package server exposes the operator HTTP control surface: strategy
// CRUD, lifecycle control (start/stop/pause/resume, start-new-session,
// PIN-protected emergency-stop), manual position close, and settings
// import/export. Handlers act on local state and reach the trading venue
// only through the injected domain.ExchangeClient (order cancels, manual
// close orders, ticker prices).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vantapoint/liqengine/internal/database/repository"
	"github.com/vantapoint/liqengine/internal/domain"
)

// Config holds everything the operator surface needs to act on engine state.
type Config struct {
	Port            int
	Log             zerolog.Logger
	DevMode         bool
	EmergencyStopPIN string // required for POST /api/strategy/{id}/emergency-stop

	Strategies *repository.StrategyRepository
	Sessions   *repository.SessionRepository
	Positions  *repository.PositionRepository
	Orders     *repository.OrderRepository
	Changes    *repository.StrategyChangeRepository
	Exchange   domain.ExchangeClient
}

// Server is the chi-based operator HTTP surface.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	registry *prometheus.Registry

	pin string

	strategies *repository.StrategyRepository
	sessions   *repository.SessionRepository
	positions  *repository.PositionRepository
	orders     *repository.OrderRepository
	changes    *repository.StrategyChangeRepository
	exchange   domain.ExchangeClient

	clock func() time.Time
}

// New builds a Server from cfg. Call Start to begin serving.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		registry:   prometheus.NewRegistry(),
		pin:        cfg.EmergencyStopPIN,
		strategies: cfg.Strategies,
		sessions:   cfg.Sessions,
		positions:  cfg.Positions,
		orders:     cfg.Orders,
		changes:    cfg.Changes,
		exchange:   cfg.Exchange,
		clock:      time.Now,
	}

	s.registerMetrics()
	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.router.Route("/api/strategy", func(r chi.Router) {
		r.Get("/", s.handleListStrategies)
		r.Post("/", s.handleCreateStrategy)
		r.Get("/{id}", s.handleGetStrategy)
		r.Put("/{id}", s.handleUpdateStrategy)
		r.Delete("/{id}", s.handleDeleteStrategy)

		r.Post("/{id}/start", s.handleStart)
		r.Post("/{id}/stop", s.handleStop)
		r.Post("/{id}/pause", s.handlePause)
		r.Post("/{id}/resume", s.handleResume)
		r.Post("/{id}/new-session", s.handleStartNewSession)
		r.Post("/{id}/emergency-stop", s.handleEmergencyStop)

		r.Get("/{id}/settings/export", s.handleSettingsExport)
		r.Post("/{id}/settings/import", s.handleSettingsImport)
	})

	s.router.Route("/api/positions", func(r chi.Router) {
		r.Get("/", s.handleListPositions)
		r.Post("/{id}/close", s.handleManualClose)
	})
}

// Start begins serving. It blocks until the server stops or errors.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting operator HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down operator HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// activeContext fetches the active strategy and its active session, or
// (nil, nil, nil) if either is absent.
func (s *Server) activeContext(ctx context.Context) (*domain.Strategy, *domain.TradeSession, error) {
	strategy, err := s.strategies.GetActive(ctx)
	if err != nil || strategy == nil {
		return nil, nil, err
	}
	session, err := s.sessions.GetActive(ctx, strategy.ID)
	if err != nil || session == nil {
		return strategy, nil, err
	}
	return strategy, session, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
