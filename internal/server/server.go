package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kodapet/koda/internal/engine"
	"github.com/kodapet/koda/internal/logging"
	"github.com/kodapet/koda/internal/store"
)

// Server is the koda HTTP API server.
type Server struct {
	db      *store.DB
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server over the given database and engine.
func New(db *store.DB, eng *engine.Engine, version string) *Server {
	s := &Server{
		db:      db,
		engine:  eng,
		version: version,
		started: time.Now(),
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
	r.Use(trace)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/score", s.handleScore)

		r.Get("/pets", s.handleListPets)
		r.Route("/pets/{petID}", func(r chi.Router) {
			r.Get("/", s.handleGetPet)
			r.Put("/", s.handlePutPet)
			r.Delete("/", s.handleDeletePet)
			r.Post("/turns", s.handleTurn)
			r.Post("/logs", s.handleRecordEvent)
			r.Get("/logs", s.handleListLogs)
			r.Get("/mood", s.handleMood)
			r.Get("/memories", s.handleListMemories)
			r.Get("/recall", s.handleRecall)
			r.Post("/reply", s.handleReply)
			r.Post("/prune", s.handlePrune)
			r.Post("/dedup", s.handleDedup)
			r.Post("/merge", s.handleMerge)
			r.Get("/conversations", s.handleListConversations)
			r.Post("/conversations/close", s.handleCloseConversation)
		})

		r.Route("/memories/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetMemory)
			r.Delete("/", s.handleDeleteMemory)
			r.Post("/reinforce", s.handleReinforce)
			r.Post("/links", s.handleLink)
			r.Get("/links", s.handleLinks)
		})

		r.Get("/conversations/{id}", s.handleGetConversation)
		r.Delete("/conversations/{id}", s.handleDeleteConversation)
	})

	s.router = r
}

// trace tags every request context with a trace id and echoes it back.
func trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := logging.WithTrace(r.Context())
		w.Header().Set("X-Trace-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.PingContext(r.Context()); err != nil {
		dbOK = false
	}
	version, _ := s.db.SchemaVersion()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime":         time.Since(s.started).Seconds(),
		"db":             dbOK,
		"db_dialect":     s.db.Dialect.String(),
		"db_path":        s.db.Path,
		"schema_version": version,
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

// fail maps bad caller input to 400 and everything else to 500.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, engine.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logging.From(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}
