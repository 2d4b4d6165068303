package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/vigil/internal/monitor"
)

const maxBodyBytes = 1 << 20

type transcriptRequest struct {
	SpeakerRole string `json:"speaker_role"`
	Text        string `json:"text"`
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Level           string `json:"level"`
	MatchedKeyword  string `json:"matched_keyword,omitempty"`
	PositiveKeyword string `json:"positive_keyword,omitempty"`
	IntervalSeconds int    `json:"interval_seconds"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Sessions.Start(chi.URLParam(r, "id"))
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Sessions.Stop(r.Context(), id); err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "state": string(monitor.StateIdle)})
}

func (s *Server) appendTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if err := s.deps.Sessions.Append(chi.URLParam(r, "id"), req.SpeakerRole, req.Text); err != nil {
		s.sessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	evt, err := s.deps.Sessions.Analyze(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Sessions.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Sessions.Sessions()
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list, "count": len(list)})
}

// listAdvisories handles GET /api/v1/sessions/{id}/advisories?limit=N
func (s *Server) listAdvisories(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotImplemented, "advisory history requires DATABASE_URL")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	id := chi.URLParam(r, "id")
	rows, err := s.deps.History.ListAdvisories(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to list advisories", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list advisories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "advisories": rows, "count": len(rows)})
}

// classify handles POST /api/v1/classify. It is stateless and meant for
// tuning keyword lists.
func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	a := s.deps.Classifier.ClassifyText(req.Text)
	writeJSON(w, http.StatusOK, classifyResponse{
		Level:           string(a.Level),
		MatchedKeyword:  a.MatchedKeyword,
		PositiveKeyword: a.PositiveKeyword,
		IntervalSeconds: int(s.deps.Intervals.For(a.Level).Seconds()),
	})
}

func (s *Server) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, monitor.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, monitor.ErrAlreadyMonitoring), errors.Is(err, monitor.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, monitor.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
