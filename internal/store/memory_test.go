// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klangwald/aircap/internal/session"
)

func testRecord(id string, stage session.Stage, started time.Time) *session.Record {
	return &session.Record{
		ID:        id,
		Config:    session.StreamConfig{Name: "Morning Show"},
		Stage:     stage,
		StartedAt: started,
		Attempts:  map[session.Stage]int{},
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := testRecord("a", session.StageCapturing, time.Now())
	require.NoError(t, s.UpsertSession(ctx, rec))

	got, err := s.GetSession(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, session.StageCapturing, got.Stage)

	// The stored snapshot is isolated from later caller mutation.
	rec.Stage = session.StageFailed
	got, err = s.GetSession(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, session.StageCapturing, got.Stage)
}

func TestMemoryStoreGetUnknown(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetSession(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListTerminalOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.UpsertSession(ctx, testRecord("active", session.StageCapturing, base)))
	require.NoError(t, s.UpsertSession(ctx, testRecord("done", session.StageCompleted, base.Add(time.Minute))))
	require.NoError(t, s.UpsertSession(ctx, testRecord("failed", session.StageFailed, base.Add(2*time.Minute))))

	all, err := s.ListSessions(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "failed", all[0].ID, "newest first")

	terminal, err := s.ListSessions(ctx, true)
	require.NoError(t, err)
	require.Len(t, terminal, 2)
	for _, rec := range terminal {
		assert.True(t, rec.Stage.IsTerminal())
	}
}

func TestMemoryStoreEvents(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, stage := range []session.Stage{session.StageScheduled, session.StageCapturing} {
		require.NoError(t, s.AppendEvent(ctx, session.StageEvent{
			SessionID: "a", Stream: "Morning Show", Stage: stage, Timestamp: time.Now(),
		}))
	}

	evs, err := s.ListEvents(ctx, "a")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, session.StageScheduled, evs[0].Stage)
	assert.Equal(t, session.StageCapturing, evs[1].Stage)

	other, err := s.ListEvents(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, other)
}
