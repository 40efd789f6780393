package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kodapet/koda/internal/engine"
	"github.com/kodapet/koda/internal/llm"
	"github.com/kodapet/koda/internal/model"
)

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var turn engine.Turn
	if !decode(w, r, &turn) {
		return
	}
	turn.PetID = chi.URLParam(r, "petID")

	f, err := s.engine.ProcessTurn(r.Context(), turn)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// timeRange parses the optional from/to query parameters.
func timeRange(r *http.Request) (from, to time.Time, ok bool) {
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if from = engine.ParseTimestamp(v); from.IsZero() {
			return from, to, false
		}
	}
	if v := q.Get("to"); v != "" {
		if to = engine.ParseTimestamp(v); to.IsZero() {
			return from, to, false
		}
	}
	return from, to, true
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	from, to, ok := timeRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid from/to")
		return
	}
	frags, err := s.db.ListFragments(r.Context(), chi.URLParam(r, "petID"), from, to)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": frags})
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	opts := engine.RecallOptions{}
	if k := r.URL.Query().Get("k"); k != "" {
		n, err := strconv.Atoi(k)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		opts.TopK = n
	}
	var ok bool
	if opts.Since, opts.Until, ok = timeRange(r); !ok {
		writeError(w, http.StatusBadRequest, "invalid from/to")
		return
	}

	ranked := s.engine.Recall(r.Context(), chi.URLParam(r, "petID"), query, opts)
	writeJSON(w, http.StatusOK, map[string]any{"memories": ranked})
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string        `json:"message"`
		Persona llm.Persona   `json:"persona"`
		Emotion model.Emotion `json:"emotion"`
		// Remember stores both sides of the exchange as fragments.
		Remember bool `json:"remember"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}
	petID := chi.URLParam(r, "petID")

	if req.Remember {
		res, err := s.engine.Chat(r.Context(), petID, req.Message, req.Persona)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	res := s.engine.Reply(r.Context(), engine.ReplyRequest{
		PetID:   petID,
		Message: req.Message,
		Persona: req.Persona,
		Emotion: req.Emotion,
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	opts := s.engine.Options()
	req := struct {
		MaxAgeDays    int     `json:"max_age_days"`
		MinImportance float64 `json:"min_importance"`
	}{opts.PruneMaxAgeDays, opts.PruneMinImportance}
	if !decode(w, r, &req) {
		return
	}
	if req.MaxAgeDays < 0 || req.MinImportance < 0 || req.MinImportance > 1 {
		writeError(w, http.StatusBadRequest, "max_age_days must be >= 0 and min_importance in [0,1]")
		return
	}

	removed, err := s.engine.Prune(r.Context(), chi.URLParam(r, "petID"), req.MaxAgeDays, req.MinImportance)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleDedup(w http.ResponseWriter, r *http.Request) {
	removed, err := s.engine.Dedup(r.Context(), chi.URLParam(r, "petID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs    []string `json:"ids"`
		MaxLen int      `json:"max_len"`
	}
	if !decode(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids required")
		return
	}

	content, err := s.engine.Merge(r.Context(), chi.URLParam(r, "petID"), req.IDs, req.MaxLen)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

func (s *Server) handleDeletePet(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeletePet(r.Context(), chi.URLParam(r, "petID")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content   string   `json:"content"`
		Timestamp string   `json:"timestamp"`
		Sentiment *float64 `json:"sentiment"`
		Emotion   string   `json:"emotion"`
	}
	if !decode(w, r, &req) {
		return
	}
	emotion, err := model.ParseEmotion(req.Emotion)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	importance := s.engine.Scorer.Score(req.Content, engine.ScoreContext{
		Timestamp: engine.ParseTimestamp(req.Timestamp),
		Sentiment: req.Sentiment,
	}, emotion)
	writeJSON(w, http.StatusOK, map[string]float64{"importance": importance})
}
