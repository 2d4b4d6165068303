package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/vigil/internal/metrics"
	"github.com/MikeSquared-Agency/vigil/internal/monitor"
	"github.com/MikeSquared-Agency/vigil/internal/risk"
	"github.com/MikeSquared-Agency/vigil/internal/store"
)

// SessionManager is satisfied by *monitor.Manager.
type SessionManager interface {
	Start(sessionID string) (monitor.Status, error)
	Stop(ctx context.Context, sessionID string) error
	Append(sessionID, role, text string) error
	Status(sessionID string) (monitor.Status, error)
	Sessions() []monitor.Status
	Analyze(ctx context.Context, sessionID string) (monitor.Event, error)
}

// AdvisoryHistory is satisfied by *store.Store.
type AdvisoryHistory interface {
	ListAdvisories(ctx context.Context, sessionID string, limit int) ([]store.AdvisoryRow, error)
}

// Deps are the components behind the API. History may be nil.
type Deps struct {
	Sessions   SessionManager
	Classifier *risk.Classifier
	Intervals  risk.IntervalTable
	History    AdvisoryHistory
}

type Server struct {
	router  *chi.Mux
	port    int
	deps    Deps
	logger  *slog.Logger
	started time.Time
	http    *http.Server
}

func NewServer(port int, apiToken string, deps Deps, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(metrics.Middleware)

	s := &Server{
		router:  router,
		port:    port,
		deps:    deps,
		logger:  logger,
		started: time.Now(),
	}

	if apiToken == "" {
		logger.Warn("VIGIL_API_TOKEN not set, session API is unauthenticated")
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/vigil/status", s.status)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(bearerAuth(apiToken))
		r.Post("/classify", s.classify)
		r.Get("/sessions", s.listSessions)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Post("/start", s.startSession)
			r.Post("/stop", s.stopSession)
			r.Post("/transcript", s.appendTranscript)
			r.Post("/analyze", s.analyze)
			r.Get("/advisories", s.listAdvisories)
		})
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	active := 0
	if s.deps.Sessions != nil {
		active = len(s.deps.Sessions.Sessions())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":           "vigil",
		"status":          "ok",
		"active_sessions": active,
		"history":         s.deps.History != nil,
		"uptime_s":        int(time.Since(s.started).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
