// SPDX-License-Identifier: MIT

package store

import (
	"context"

	"github.com/klangwald/aircap/internal/bus"
	"github.com/klangwald/aircap/internal/log"
	"github.com/klangwald/aircap/internal/session"
)

// Recorder subscribes to stage events and appends them to the store. It is
// intentionally one-way: persistence failures are logged, never propagated
// into the session lifecycle.
type Recorder struct {
	store Store
	bus   bus.Bus
}

func NewRecorder(s Store, b bus.Bus) *Recorder {
	return &Recorder{store: s, bus: b}
}

// Run consumes stage events until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	sub, err := r.bus.Subscribe(ctx, session.TopicStageEvents)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()

	logger := log.WithComponent("recorder")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			ev, ok := msg.(session.StageEvent)
			if !ok {
				continue
			}
			if err := r.store.AppendEvent(ctx, ev); err != nil {
				logger.Error().Err(err).
					Str(log.FieldSessionID, ev.SessionID).
					Str(log.FieldStage, string(ev.Stage)).
					Msg("persist stage event failed")
			}
		}
	}
}
