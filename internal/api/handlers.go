// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/klangwald/aircap/internal/log"
	"github.com/klangwald/aircap/internal/orchestrator"
	"github.com/klangwald/aircap/internal/session"
)

type startSessionRequest struct {
	Config               session.StreamConfig `json:"config"`
	DurationLimitSeconds int                  `json:"durationLimitSeconds,omitempty"`
}

type startSessionResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type probeRequest struct {
	URL string `json:"url"`
}

type sessionDetail struct {
	session.Record
	Events []session.StageEvent `json:"events,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DurationLimitSeconds < 0 {
		writeError(w, http.StatusBadRequest, "durationLimitSeconds must not be negative")
		return
	}

	limit := time.Duration(req.DurationLimitSeconds) * time.Second
	id, err := s.sessions.StartSession(r.Context(), req.Config, limit)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, startSessionResponse{ID: id})
	case errors.Is(err, session.ErrResourceExhausted):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.sessions.CancelSession(id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
	case errors.Is(err, orchestrator.ErrSessionFinished):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrUnknownSession):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	active := s.sessions.ListActive()
	sort.Slice(active, func(i, j int) bool {
		return active[i].StartedAt.After(active[j].StartedAt)
	})
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	events, err := s.store.ListEvents(r.Context(), id)
	if err != nil {
		log.WithComponent("api").Warn().Err(err).
			Str(log.FieldSessionID, id).
			Msg("list stage events failed")
	}
	writeJSON(w, http.StatusOK, sessionDetail{Record: rec, Events: events})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListSessions(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list sessions failed")
		return
	}
	if recs == nil {
		recs = []*session.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if err := s.prober.Probe(r.Context(), req.URL); err != nil {
		var pe *session.ProtocolError
		if errors.As(err, &pe) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reachable"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithComponent("api").Warn().Err(err).Msg("write response failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
