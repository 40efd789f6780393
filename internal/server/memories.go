package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	f, err := s.db.GetFragment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	ok, err := s.engine.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReinforce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InteractionCount int     `json:"interaction_count"`
		EmotionalImpact  float64 `json:"emotional_impact"`
	}
	if !decode(w, r, &req) {
		return
	}

	f, err := s.engine.Reinforce(r.Context(), chi.URLParam(r, "id"), req.InteractionCount, req.EmotionalImpact)
	if err != nil {
		fail(w, r, err)
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		writeError(w, http.StatusBadRequest, "target required")
		return
	}

	f, err := s.engine.Link(r.Context(), chi.URLParam(r, "id"), req.Target)
	if err != nil {
		fail(w, r, err)
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.engine.References(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if links == nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links})
}
