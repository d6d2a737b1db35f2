// Package incident defines the persistent audit record opened for every
// accepted trigger event, and the timeline of updates appended to it.
package incident

import (
	"context"
	"time"

	"github.com/linnemanlabs/muster/internal/trigger"
)

// Update kinds appended to an incident timeline.
const (
	UpdateDispatched   = "dispatched"
	UpdateAcknowledged = "acknowledged"
	UpdateStatus       = "status"
	UpdateEscalated    = "escalated"
	UpdateExhausted    = "escalation_exhausted"
	UpdateNote         = "note"
)

// Incident is the durable record of one emergency event, opened at
// ingestion and appended to as the response unfolds. The event snapshot
// is stored verbatim so the record stays meaningful after trigger
// reconfiguration.
type Incident struct {
	ID        string        `json:"id"`
	EventID   string        `json:"event_id"`
	Scenario  string        `json:"scenario"`
	Priority  int           `json:"priority"`
	Event     trigger.Event `json:"event"`
	CreatedAt time.Time     `json:"created_at"`
	Updates   []Update      `json:"updates,omitempty"`
}

// Update is one timeline entry.
type Update struct {
	Seq    int       `json:"seq"`
	Kind   string    `json:"kind"`
	Actor  string    `json:"actor,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Store is the persistence interface for incidents.
type Store interface {
	// Create opens an incident. Creating twice for the same event id is
	// a no-op, not an error: ingestion retries must not duplicate records.
	Create(ctx context.Context, inc *Incident) error
	Get(ctx context.Context, id string) (*Incident, bool, error)
	GetByEvent(ctx context.Context, eventID string) (*Incident, bool, error)
	AppendUpdate(ctx context.Context, incidentID string, u *Update) error
	// List returns the most recently created incidents, newest first.
	List(ctx context.Context, limit int) ([]*Incident, error)
}
