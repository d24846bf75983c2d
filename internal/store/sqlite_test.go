// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klangwald/aircap/internal/session"
)

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "aircap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	ended := time.Now().Truncate(time.Millisecond)
	rec := &session.Record{
		ID: "s1",
		Config: session.StreamConfig{
			Name:        "Morning Show",
			StreamURL:   "https://radio.example.net/live",
			Artist:      "Station",
			Album:       "Morning Archive",
			Destination: "radio@archive.example.net:/srv/recordings",
		},
		Stage:             session.StageCompleted,
		StartedAt:         ended.Add(-time.Hour),
		EndedAt:           &ended,
		DurationLimit:     30 * time.Minute,
		Attempts:          map[session.Stage]int{session.StageCapturing: 2},
		ArtifactPath:      "recordings/2024-03-05_Morning_Show.mp3",
		TransferConfirmed: true,
	}
	require.NoError(t, s.UpsertSession(ctx, rec))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	if diff := cmp.Diff(rec.Config, got.Config); diff != "" {
		t.Fatalf("config round trip mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, session.StageCompleted, got.Stage)
	assert.Equal(t, 30*time.Minute, got.DurationLimit)
	assert.Equal(t, 2, got.Attempts[session.StageCapturing])
	assert.True(t, got.TransferConfirmed)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(ended))
}

func TestSQLiteUpsertUpdates(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	rec := &session.Record{
		ID:        "s1",
		Config:    session.StreamConfig{Name: "Morning Show"},
		Stage:     session.StageCapturing,
		StartedAt: time.Now(),
	}
	require.NoError(t, s.UpsertSession(ctx, rec))

	rec.Stage = session.StageFailed
	rec.LastError = "connection error: reset"
	require.NoError(t, s.UpsertSession(ctx, rec))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StageFailed, got.Stage)
	assert.Equal(t, "connection error: reset", got.LastError)

	all, err := s.ListSessions(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1, "upsert must not duplicate")
}

func TestSQLiteGetUnknown(t *testing.T) {
	s := openTestDB(t)
	_, err := s.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteEventsOrdered(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	rec := &session.Record{
		ID:        "s1",
		Config:    session.StreamConfig{Name: "Morning Show"},
		Stage:     session.StageScheduled,
		StartedAt: time.Now(),
	}
	require.NoError(t, s.UpsertSession(ctx, rec))

	stages := []session.Stage{
		session.StageScheduled, session.StageCapturing,
		session.StageProcessing, session.StageTransferring, session.StageCompleted,
	}
	for i, stage := range stages {
		require.NoError(t, s.AppendEvent(ctx, session.StageEvent{
			SessionID: "s1",
			Stream:    "Morning Show",
			Stage:     stage,
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	evs, err := s.ListEvents(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, evs, len(stages))
	for i, stage := range stages {
		assert.Equal(t, stage, evs[i].Stage)
	}
}

func TestSQLiteListTerminalOnly(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	base := time.Now()

	for i, tc := range []struct {
		id    string
		stage session.Stage
	}{
		{"a", session.StageCapturing},
		{"b", session.StageCompleted},
		{"c", session.StageCancelled},
	} {
		require.NoError(t, s.UpsertSession(ctx, &session.Record{
			ID:        tc.id,
			Config:    session.StreamConfig{Name: "Morning Show"},
			Stage:     tc.stage,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	terminal, err := s.ListSessions(ctx, true)
	require.NoError(t, err)
	require.Len(t, terminal, 2)
	assert.Equal(t, "c", terminal[0].ID, "newest first")
}
