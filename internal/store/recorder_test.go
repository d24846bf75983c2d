// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klangwald/aircap/internal/bus"
	"github.com/klangwald/aircap/internal/session"
)

func TestRecorderPersistsStageEvents(t *testing.T) {
	s := NewMemoryStore()
	b := bus.NewMemoryBus()
	rec := NewRecorder(s, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rec.Run(ctx)
	}()

	for _, stage := range []session.Stage{session.StageScheduled, session.StageCapturing} {
		require.NoError(t, b.Publish(ctx, session.TopicStageEvents, session.StageEvent{
			SessionID: "s1", Stream: "Morning Show", Stage: stage, Timestamp: time.Now(),
		}))
	}

	require.Eventually(t, func() bool {
		evs, err := s.ListEvents(context.Background(), "s1")
		return err == nil && len(evs) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop on cancellation")
	}
}

func TestRecorderIgnoresForeignMessages(t *testing.T) {
	s := NewMemoryStore()
	b := bus.NewMemoryBus()
	rec := NewRecorder(s, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rec.Run(ctx)
	}()

	require.NoError(t, b.Publish(ctx, session.TopicStageEvents, "not an event"))
	require.NoError(t, b.Publish(ctx, session.TopicStageEvents, session.StageEvent{
		SessionID: "s1", Stage: session.StageScheduled, Timestamp: time.Now(),
	}))

	require.Eventually(t, func() bool {
		evs, _ := s.ListEvents(context.Background(), "s1")
		return len(evs) == 1
	}, time.Second, 10*time.Millisecond)

	evs, err := s.ListEvents(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, evs, 1)

	cancel()
	<-done
}
