package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kodapet/koda/internal/engine"
	"github.com/kodapet/koda/internal/model"
)

func (s *Server) handleListPets(w http.ResponseWriter, r *http.Request) {
	pets, err := s.db.ListPets(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if pets == nil {
		pets = []model.Pet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pets": pets})
}

func (s *Server) handleGetPet(w http.ResponseWriter, r *http.Request) {
	pet, err := s.db.GetPet(r.Context(), chi.URLParam(r, "petID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if pet == nil {
		writeError(w, http.StatusNotFound, "pet not found")
		return
	}
	writeJSON(w, http.StatusOK, pet)
}

func (s *Server) handlePutPet(w http.ResponseWriter, r *http.Request) {
	var pet model.Pet
	if !decode(w, r, &pet) {
		return
	}
	pet.ID = chi.URLParam(r, "petID")
	if err := s.engine.SavePet(r.Context(), &pet); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pet)
}

type eventRequest struct {
	Type      string        `json:"type"`
	Summary   string        `json:"summary"`
	Content   string        `json:"content"`
	Date      string        `json:"date"`
	Emotion   model.Emotion `json:"emotion"`
	Sentiment *float64      `json:"sentiment"`
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decode(w, r, &req) {
		return
	}
	ev := engine.Event{
		PetID:     chi.URLParam(r, "petID"),
		Type:      model.LogType(req.Type),
		Summary:   req.Summary,
		Content:   req.Content,
		Emotion:   req.Emotion,
		Sentiment: req.Sentiment,
	}
	if lt, err := model.ParseLogType(req.Type); err == nil {
		ev.Type = lt
	}
	if req.Date != "" {
		if ev.Date = engine.ParseTimestamp(req.Date); ev.Date.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid date")
			return
		}
	}

	res, err := s.engine.RecordEvent(r.Context(), ev)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	var typ model.LogType
	if v := r.URL.Query().Get("type"); v != "" {
		lt, err := model.ParseLogType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid type")
			return
		}
		typ = lt
	}
	from, to, ok := timeRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid from/to")
		return
	}
	logs, err := s.db.ListLogs(r.Context(), chi.URLParam(r, "petID"), typ, from, to)
	if err != nil {
		fail(w, r, err)
		return
	}
	if logs == nil {
		logs = []model.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleMood(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}
	trend, err := s.engine.MoodTrend(r.Context(), chi.URLParam(r, "petID"), days)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": trend})
}
