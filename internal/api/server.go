// SPDX-License-Identifier: MIT

// Package api exposes the daemon's HTTP control surface: session admission,
// cancellation, status, history and the stream connectivity probe.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/klangwald/aircap/internal/log"
	"github.com/klangwald/aircap/internal/session"
	"github.com/klangwald/aircap/internal/store"
)

// Prober tests stream connectivity without recording.
type Prober interface {
	Probe(ctx context.Context, rawURL string) error
}

// Sessions is the orchestrator surface the API needs.
type Sessions interface {
	StartSession(ctx context.Context, cfg session.StreamConfig, limit time.Duration) (string, error)
	CancelSession(id string) error
	GetSession(ctx context.Context, id string) (session.Record, error)
	ListActive() []session.Record
}

// Server wires the HTTP routes.
type Server struct {
	sessions Sessions
	store    store.Store
	prober   Prober
	version  string
}

func NewServer(sessions Sessions, st store.Store, prober Prober, version string) *Server {
	return &Server{sessions: sessions, store: st, prober: prober, version: version}
}

// Router builds the chi router with logging, recovery and rate limiting.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(120, time.Minute))

		r.Post("/sessions", s.handleStartSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Post("/sessions/{id}/cancel", s.handleCancelSession)
		r.Get("/history", s.handleHistory)
		r.Post("/probe", s.handleProbe)
	})

	return r
}

// requestLogger logs one line per request in the daemon's structured format.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.WithComponent("api").Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
