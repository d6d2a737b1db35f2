// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/muster/internal/incident"
)

// ErrNotFound is returned by AppendUpdate for unknown incident ids.
var ErrNotFound = xerrors.New("incident not found")

// Store holds incidents in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident // incident ID -> record
	byEvent   map[string]string             // event ID -> incident ID
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
		byEvent:   make(map[string]string),
	}
}

// Create opens an incident; a duplicate event id is a silent no-op.
func (s *Store) Create(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEvent[inc.EventID]; ok {
		return nil
	}
	cp := clone(inc)
	s.incidents[inc.ID] = cp
	s.byEvent[inc.EventID] = inc.ID
	return nil
}

// Get retrieves an incident by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return clone(inc), true, nil
}

// GetByEvent retrieves the incident opened for an event. Returns a copy.
func (s *Store) GetByEvent(_ context.Context, eventID string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEvent[eventID]
	if !ok {
		return nil, false, nil
	}
	return clone(s.incidents[id]), true, nil
}

// AppendUpdate appends a timeline entry, assigning the next sequence number.
func (s *Store) AppendUpdate(_ context.Context, incidentID string, u *incident.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return ErrNotFound
	}
	cp := *u
	cp.Seq = len(inc.Updates) + 1
	inc.Updates = append(inc.Updates, cp)
	return nil
}

// List returns copies of the most recent incidents, newest first.
func (s *Store) List(_ context.Context, limit int) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*incident.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, clone(inc))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(inc *incident.Incident) *incident.Incident {
	cp := *inc
	cp.Updates = append([]incident.Update(nil), inc.Updates...)
	return &cp
}
