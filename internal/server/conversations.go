package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	from, to, ok := timeRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid from/to")
		return
	}
	convs, err := s.db.ListConversations(r.Context(), chi.URLParam(r, "petID"), from, to)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleCloseConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.engine.CloseConversation(r.Context(), chi.URLParam(r, "petID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "no open conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.db.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	ok, err := s.db.DeleteConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
