// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/klangwald/aircap/internal/session"
)

// MemoryStore keeps everything in process memory. Used in tests and as a
// fallback when no database path is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Record
	events   map[string][]session.StageEvent
	order    []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*session.Record),
		events:   make(map[string][]session.StageEvent),
	}
}

func (s *MemoryStore) UpsertSession(_ context.Context, rec *session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	snap := rec.Clone()
	s.sessions[rec.ID] = &snap
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, ev session.StageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.SessionID] = append(s.events[ev.SessionID], ev)
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	snap := rec.Clone()
	return &snap, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, terminalOnly bool) ([]*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session.Record, 0, len(s.order))
	for _, id := range s.order {
		rec := s.sessions[id]
		if terminalOnly && !rec.Stage.IsTerminal() {
			continue
		}
		snap := rec.Clone()
		out = append(out, &snap)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, id string) ([]session.StageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.events[id]
	out := make([]session.StageEvent, len(evs))
	copy(out, evs)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
