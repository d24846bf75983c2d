// SPDX-License-Identifier: MIT

// Package store persists session records and their stage-event history so
// that completed and failed sessions survive a daemon restart.
package store

import (
	"context"
	"errors"

	"github.com/klangwald/aircap/internal/session"
)

// ErrNotFound is returned when no session with the given id exists.
var ErrNotFound = errors.New("session not found")

// Store is the persistence surface for session records and events.
type Store interface {
	// UpsertSession writes the current snapshot of a session record.
	UpsertSession(ctx context.Context, rec *session.Record) error

	// AppendEvent appends one stage event to the session's history.
	AppendEvent(ctx context.Context, ev session.StageEvent) error

	// GetSession returns the stored snapshot, or ErrNotFound.
	GetSession(ctx context.Context, id string) (*session.Record, error)

	// ListSessions returns all stored sessions, newest first. When
	// terminalOnly is set only completed, failed and cancelled sessions
	// are returned.
	ListSessions(ctx context.Context, terminalOnly bool) ([]*session.Record, error)

	// ListEvents returns the stage history of one session in append order.
	ListEvents(ctx context.Context, id string) ([]session.StageEvent, error)

	Close() error
}
