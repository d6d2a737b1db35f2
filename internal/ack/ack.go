// Package ack tracks acknowledgment status per dispatched event and owns
// the auto-escalation timers.
package ack

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/muster/internal/dispatch"
	"github.com/linnemanlabs/muster/internal/trigger"
)

// ErrUnknownEvent is returned for event ids the tracker never saw.
var ErrUnknownEvent = xerrors.New("unknown event id")

// ErrInvalidTransition is returned for backward or repeated status moves.
var ErrInvalidTransition = xerrors.New("invalid status transition")

// ErrEscalationExhausted is returned when an event that already escalated
// is asked to escalate again. Each event re-dispatches at most once; a
// second timeout surfaces the exhausted condition instead of retrying.
var ErrEscalationExhausted = xerrors.New("event already escalated")

// Status is the acknowledgment lifecycle of a dispatched event.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
	StatusResponding   Status = "responding"
	StatusResolved     Status = "resolved"
)

// rank orders statuses; transitions must strictly increase. Skipping
// levels is allowed (pending straight to resolved is a valid close-out).
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAcknowledged:
		return 1
	case StatusResponding:
		return 2
	case StatusResolved:
		return 3
	}
	return -1
}

// Transition is one recorded status change.
type Transition struct {
	From Status    `json:"from"`
	To   Status    `json:"to"`
	By   string    `json:"by"`
	Note string    `json:"note,omitempty"`
	At   time.Time `json:"at"`
}

// Record is the acknowledgment state of one event.
type Record struct {
	EventID     string       `json:"event_id"`
	Status      Status       `json:"status"`
	History     []Transition `json:"history"`
	Escalated   bool         `json:"escalated"`
	EscalatedAt time.Time    `json:"escalated_at,omitzero"`
	Exhausted   bool         `json:"exhausted,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Escalator re-dispatches an event to its escalation tier and records the
// terminal exhausted condition on the incident timeline.
type Escalator interface {
	Escalate(ctx context.Context, ev *trigger.Event) *dispatch.Result
	Exhausted(ctx context.Context, ev *trigger.Event)
}

// entry carries its own lock so an escalation timer firing for one event
// never contends with acknowledgments for another.
type entry struct {
	mu      sync.Mutex
	rec     Record
	ev      *trigger.Event
	timer   *time.Timer
	timeout time.Duration
}

// Tracker holds per-event acknowledgment records and arms auto-escalation
// timers for policies that request them.
type Tracker struct {
	escalator      Escalator
	defaultTimeout time.Duration
	hooks          Hooks
	logger         log.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewTracker creates a tracker. defaultTimeout applies to auto-escalating
// policies that do not carry their own timeout.
func NewTracker(escalator Escalator, defaultTimeout time.Duration, hooks Hooks, logger log.Logger) *Tracker {
	if logger == nil {
		logger = log.Nop()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 2 * time.Minute
	}
	return &Tracker{
		escalator:      escalator,
		defaultTimeout: defaultTimeout,
		hooks:          hooks,
		logger:         logger,
		entries:        make(map[string]*entry),
	}
}

// Track registers a delivered event as pending. Policies with AutoEscalate
// arm a timer that re-dispatches once and then, after the same period
// again without an acknowledgment, surfaces escalation-exhausted. An
// acknowledgment arriving first suppresses both.
func (t *Tracker) Track(ctx context.Context, ev *trigger.Event) *Record {
	timeout := ev.Trigger.Policy.EscalationTimeout
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}

	e := &entry{
		rec: Record{
			EventID:   ev.ID,
			Status:    StatusPending,
			CreatedAt: time.Now(),
		},
		ev:      ev,
		timeout: timeout,
	}

	t.mu.Lock()
	t.entries[ev.ID] = e
	t.mu.Unlock()

	if ev.Trigger.Policy.AutoEscalate {
		e.mu.Lock()
		e.timer = time.AfterFunc(timeout, func() { t.fire(e) })
		e.mu.Unlock()
		t.logger.Info(ctx, "escalation timer armed", "event_id", ev.ID, "timeout", timeout)
	}

	cp := e.rec
	return &cp
}

// Acknowledge moves the event to acknowledged and cancels any pending
// escalation timer. Acknowledging an event already past pending is a
// no-op returning the current record.
func (t *Tracker) Acknowledge(ctx context.Context, eventID, by, note string) (*Record, error) {
	rec, err := t.Advance(ctx, eventID, StatusAcknowledged, by, note)
	if errors.Is(err, ErrInvalidTransition) {
		cp, ok := t.Get(eventID)
		if !ok {
			return nil, ErrUnknownEvent
		}
		return cp, nil
	}
	return rec, err
}

// Advance applies a forward status transition. Backward and repeated moves
// return ErrInvalidTransition; the record is left untouched.
func (t *Tracker) Advance(ctx context.Context, eventID string, to Status, by, note string) (*Record, error) {
	if to.rank() < 0 {
		return nil, xerrors.New("unknown status " + string(to))
	}

	e, ok := t.lookup(eventID)
	if !ok {
		return nil, ErrUnknownEvent
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.rec.Status
	if to.rank() <= from.rank() {
		return nil, ErrInvalidTransition
	}

	// any forward move means someone is handling it; the timer is moot
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	now := time.Now()
	e.rec.Status = to
	e.rec.History = append(e.rec.History, Transition{
		From: from, To: to, By: by, Note: note, At: now,
	})

	t.hooks.onTransition(string(from), string(to))
	if from == StatusPending {
		t.hooks.onTimeToAck(now.Sub(e.rec.CreatedAt).Seconds())
	}
	t.logger.Info(ctx, "event status advanced",
		"event_id", eventID, "from", from, "to", to, "by", by)

	cp := e.rec
	cp.History = append([]Transition(nil), e.rec.History...)
	return &cp, nil
}

// Escalate forces the event's escalation immediately, subject to the same
// once-per-event rule as the timer path. For auto-escalating policies the
// exhaustion timer keeps running so an event nobody acknowledges still
// surfaces as exhausted.
func (t *Tracker) Escalate(ctx context.Context, eventID string) error {
	e, ok := t.lookup(eventID)
	if !ok {
		return ErrUnknownEvent
	}

	e.mu.Lock()
	if e.rec.Escalated {
		e.mu.Unlock()
		return ErrEscalationExhausted
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.rec.Escalated = true
	e.rec.EscalatedAt = time.Now()
	if e.ev.Trigger.Policy.AutoEscalate {
		e.timer = time.AfterFunc(e.timeout, func() { t.fire(e) })
	}
	ev := e.ev
	e.mu.Unlock()

	t.hooks.onEscalation(true)
	t.escalator.Escalate(ctx, ev)
	return nil
}

// Get returns a copy of the event's record.
func (t *Tracker) Get(eventID string) (*Record, bool) {
	e, ok := t.lookup(eventID)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := e.rec
	cp.History = append([]Transition(nil), e.rec.History...)
	return &cp, true
}

// Pending returns copies of all records still awaiting acknowledgment.
func (t *Tracker) Pending() []*Record {
	t.mu.Lock()
	entries := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.Unlock()

	var out []*Record
	for _, e := range entries {
		e.mu.Lock()
		if e.rec.Status == StatusPending {
			cp := e.rec
			cp.History = append([]Transition(nil), e.rec.History...)
			out = append(out, &cp)
		}
		e.mu.Unlock()
	}
	return out
}

// fire runs when an escalation timer elapses. The first expiry while the
// event is still pending re-dispatches and re-arms the timer for one more
// period; the second marks the event exhausted and hands it to the
// escalator's terminal path. An acknowledgment that won the race
// suppresses the escalation even if Stop missed the timer.
func (t *Tracker) fire(e *entry) {
	e.mu.Lock()
	if e.rec.Status != StatusPending || e.rec.Exhausted {
		e.mu.Unlock()
		t.hooks.onEscalation(false)
		return
	}
	ev := e.ev
	if e.rec.Escalated {
		e.rec.Exhausted = true
		e.timer = nil
		e.mu.Unlock()

		ctx := context.Background()
		t.hooks.onExhausted()
		t.logger.Error(ctx, ErrEscalationExhausted, "event still unacknowledged after escalation",
			"event_id", ev.ID, "scenario", ev.Trigger.Policy.Scenario)
		t.escalator.Exhausted(ctx, ev)
		return
	}
	e.rec.Escalated = true
	e.rec.EscalatedAt = time.Now()
	e.timer = time.AfterFunc(e.timeout, func() { t.fire(e) })
	e.mu.Unlock()

	ctx := context.Background()
	t.hooks.onEscalation(true)
	t.logger.Warn(ctx, "event unacknowledged, escalating",
		"event_id", ev.ID, "scenario", ev.Trigger.Policy.Scenario)
	t.escalator.Escalate(ctx, ev)
}

// Close stops all pending escalation timers.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.mu.Unlock()
	}
}

func (t *Tracker) lookup(eventID string) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[eventID]
	return e, ok
}
