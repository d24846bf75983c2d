// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klangwald/aircap/internal/orchestrator"
	"github.com/klangwald/aircap/internal/session"
	"github.com/klangwald/aircap/internal/store"
)

type fakeSessions struct {
	startID    string
	startErr   error
	started    []session.StreamConfig
	limits     []time.Duration
	cancelErr  error
	cancelled  []string
	records    map[string]session.Record
	active     []session.Record
}

func (f *fakeSessions) StartSession(_ context.Context, cfg session.StreamConfig, limit time.Duration) (string, error) {
	f.started = append(f.started, cfg)
	f.limits = append(f.limits, limit)
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.startID, nil
}

func (f *fakeSessions) CancelSession(id string) error {
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (session.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return session.Record{}, orchestrator.ErrUnknownSession
	}
	return rec, nil
}

func (f *fakeSessions) ListActive() []session.Record { return f.active }

type fakeProber struct {
	err error
	url string
}

func (f *fakeProber) Probe(_ context.Context, rawURL string) error {
	f.url = rawURL
	return f.err
}

func newTestServer(sessions *fakeSessions, prober *fakeProber) (*Server, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return NewServer(sessions, st, prober, "test"), st
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func validStart() startSessionRequest {
	return startSessionRequest{
		Config: session.StreamConfig{
			Name:        "Morning Show",
			StreamURL:   "https://radio.example.net/live",
			Artist:      "Station",
			Album:       "Morning Archive",
			Destination: "radio@archive.example.net:/srv/recordings",
		},
		DurationLimitSeconds: 1800,
	}
}

func TestStartSessionCreated(t *testing.T) {
	sessions := &fakeSessions{startID: "abc-123"}
	srv, _ := newTestServer(sessions, &fakeProber{})
	router := srv.Router()

	w := postJSON(t, router, "/api/v1/sessions", validStart())
	require.Equal(t, http.StatusCreated, w.Code)

	var resp startSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "abc-123", resp.ID)

	require.Len(t, sessions.limits, 1)
	assert.Equal(t, 30*time.Minute, sessions.limits[0])
}

func TestStartSessionConcurrencyLimit(t *testing.T) {
	sessions := &fakeSessions{startErr: session.ErrResourceExhausted}
	srv, _ := newTestServer(sessions, &fakeProber{})

	w := postJSON(t, srv.Router(), "/api/v1/sessions", validStart())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestStartSessionBadRequest(t *testing.T) {
	srv, _ := newTestServer(&fakeSessions{}, &fakeProber{})
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bad := validStart()
	bad.DurationLimitSeconds = -5
	w = postJSON(t, router, "/api/v1/sessions", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelSession(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"unknown", orchestrator.ErrUnknownSession, http.StatusNotFound},
		{"finished", fmt.Errorf("%w: COMPLETED", orchestrator.ErrSessionFinished), http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sessions := &fakeSessions{cancelErr: tc.err}
			srv, _ := newTestServer(sessions, &fakeProber{})

			w := postJSON(t, srv.Router(), "/api/v1/sessions/abc/cancel", struct{}{})
			assert.Equal(t, tc.code, w.Code)
			assert.Equal(t, []string{"abc"}, sessions.cancelled)
		})
	}
}

func TestGetSessionWithEvents(t *testing.T) {
	rec := session.Record{ID: "abc", Stage: session.StageCapturing}
	sessions := &fakeSessions{records: map[string]session.Record{"abc": rec}}
	srv, st := newTestServer(sessions, &fakeProber{})

	require.NoError(t, st.AppendEvent(context.Background(), session.StageEvent{
		SessionID: "abc", Stage: session.StageScheduled, Timestamp: time.Now(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/abc", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var detail sessionDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "abc", detail.ID)
	assert.Len(t, detail.Events, 1)
}

func TestGetSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(&fakeSessions{}, &fakeProber{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/missing", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSessionsNewestFirst(t *testing.T) {
	now := time.Now()
	sessions := &fakeSessions{active: []session.Record{
		{ID: "old", StartedAt: now.Add(-time.Hour)},
		{ID: "new", StartedAt: now},
	}}
	srv, _ := newTestServer(sessions, &fakeProber{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var recs []session.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "new", recs[0].ID)
}

func TestHistoryListsTerminalSessions(t *testing.T) {
	srv, st := newTestServer(&fakeSessions{}, &fakeProber{})
	ctx := context.Background()

	require.NoError(t, st.UpsertSession(ctx, &session.Record{
		ID: "done", Stage: session.StageCompleted, StartedAt: time.Now(),
	}))
	require.NoError(t, st.UpsertSession(ctx, &session.Record{
		ID: "running", Stage: session.StageCapturing, StartedAt: time.Now(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var recs []session.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "done", recs[0].ID)
}

func TestProbe(t *testing.T) {
	prober := &fakeProber{}
	srv, _ := newTestServer(&fakeSessions{}, prober)
	router := srv.Router()

	w := postJSON(t, router, "/api/v1/probe", probeRequest{URL: "https://radio.example.net/live"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://radio.example.net/live", prober.url)

	prober.err = &session.ProtocolError{Scheme: "ftp"}
	w = postJSON(t, router, "/api/v1/probe", probeRequest{URL: "ftp://x/y"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	prober.err = &session.ConnectionError{Detail: "timeout", ExitCode: -1}
	w = postJSON(t, router, "/api/v1/probe", probeRequest{URL: "https://down.example.net"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = postJSON(t, router, "/api/v1/probe", probeRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(&fakeSessions{}, &fakeProber{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "\"version\":\"test\"")
}
