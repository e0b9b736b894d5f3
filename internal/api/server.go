package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/socialchef/beacon/internal/config"
	"github.com/socialchef/beacon/internal/middleware"
	"github.com/socialchef/beacon/internal/observe"
)

// DB is the part of *pgxpool.Pool the database route needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Server struct {
	cfg    *config.Config
	hub    *observe.Hub
	db     DB
	client *http.Client
}

// NewServer builds the demo API. db may be nil, in which case the database
// route simulates its failure.
func NewServer(cfg *config.Config, hub *observe.Hub, db DB, client *http.Client) *Server {
	if client == nil {
		client = http.DefaultClient
	}
	return &Server{
		cfg:    cfg,
		hub:    hub,
		db:     db,
		client: client,
	}
}

// Register mounts the routes on r. Everything but /health runs inside a
// unit of work.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Observe(s.hub))
		r.Use(middleware.Identity(s.cfg, s.hub))

		r.Get("/", s.HandleHome)
		r.Get("/error", s.HandleError)
		r.Get("/error/sync", s.HandleSyncError)
		r.Get("/error/async", s.HandleAsyncError)
		r.Get("/error/db", s.HandleDatabaseError)
		r.Get("/error/fs", s.HandleFilesystemError)
		r.Get("/error/network", s.HandleNetworkError)
		r.Get("/error/unhandled", s.HandleUnhandledError)
		r.Post("/validate", s.HandleValidate)
		r.Get("/memory", s.HandleMemory)
		r.Get("/slow", s.HandleSlow)
		r.Post("/feedback", s.HandleFeedback)
		r.Get("/debug/last-event", s.HandleLastEvent)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
