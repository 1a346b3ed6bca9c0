// Package server exposes the local HTTP API the UI talks to: catalog
// search, meal scoring, enqueueing user actions, day views and queue
// management. The UI never recomputes formulas itself — everything goes
// through these handlers.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/jmorgan/histalog/internal/store"
	hsync "github.com/jmorgan/histalog/internal/sync"
)

// Server is the histalog local HTTP API server.
type Server struct {
	db               *store.DB
	reconciler       *hsync.Reconciler
	log              *logrus.Logger
	defaultTolerance float64
	version          string
	started          time.Time
	router           chi.Router
}

// New creates a Server. reconciler may be nil when no remote store is
// configured; sync endpoints then report that sync is disabled.
func New(db *store.DB, reconciler *hsync.Reconciler, log *logrus.Logger, defaultTolerance float64, version string) *Server {
	s := &Server{
		db:               db,
		reconciler:       reconciler,
		log:              log,
		defaultTolerance: defaultTolerance,
		version:          version,
		started:          time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/foods", s.handleSearchFoods)
		r.Get("/modifiers", s.handleListModifiers)

		r.Post("/meals/preview", s.handleMealPreview)
		r.Post("/meals", s.handleEnqueueMeal)
		r.Post("/contexts", s.handleEnqueueContext)
		r.Post("/symptoms", s.handleEnqueueSymptom)

		r.Get("/day/{date}", s.handleDay)
		r.Get("/tolerance", s.handleTolerance)
		r.Post("/tolerance/rollover", s.handleRollover)

		r.Get("/pending", s.handlePending)
		r.Delete("/pending/{kind}/{tempID}", s.handleDiscard)
		r.Post("/sync", s.handleSync)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
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
