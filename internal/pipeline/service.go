// Package pipeline is the business boundary tying ingestion, incident
// persistence, dispatch, and acknowledgment tracking together.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/muster/internal/ack"
	"github.com/linnemanlabs/muster/internal/dispatch"
	"github.com/linnemanlabs/muster/internal/incident"
	"github.com/linnemanlabs/muster/internal/position"
	"github.com/linnemanlabs/muster/internal/trigger"
)

// SubmitResult is the outcome of submitting a trigger signal.
type SubmitResult struct {
	EventID    string
	IncidentID string
	Rejected   bool
	Reason     string
}

// AreaAlertRequest addresses everyone whose last known position falls
// inside the given area.
type AreaAlertRequest struct {
	Building string
	Floor    string
	Zone     string
	Center   *position.Point
	RadiusM  float64
	Title    string
	Body     string
	Scenario string
	Priority int
	Channels []string
}

// ErrNoRecipients is returned when an area alert resolves nobody.
var ErrNoRecipients = xerrors.New("no recipients in target area")

// Ingestor validates device signals into trigger events.
type Ingestor interface {
	Process(ctx context.Context, deviceID string, sig trigger.Signal) (*trigger.Event, error)
}

// Dispatcher fans alerts out across channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *trigger.Event) *dispatch.Result
	Escalate(ctx context.Context, ev *trigger.Event) *dispatch.Result
	DispatchAlert(ctx context.Context, alert *dispatch.Alert) *dispatch.Result
}

// Tracker owns acknowledgment state and escalation timers.
type Tracker interface {
	Track(ctx context.Context, ev *trigger.Event) *ack.Record
	Acknowledge(ctx context.Context, eventID, by, note string) (*ack.Record, error)
	Advance(ctx context.Context, eventID string, to ack.Status, by, note string) (*ack.Record, error)
	Escalate(ctx context.Context, eventID string) error
	Get(eventID string) (*ack.Record, bool)
}

// AreaResolver finds entities by last known position, satisfied by
// *position.Directory.
type AreaResolver interface {
	InArea(building, floor, zone string, center *position.Point, radiusM float64) []*position.Estimate
}

// RecipientResolver maps a located entity to its contact record.
type RecipientResolver interface {
	Resolve(entityID string) (trigger.Recipient, bool)
}

// Broadcaster publishes area alerts to building-wide topics, satisfied
// by *mqttcast.Notifier. Optional.
type Broadcaster interface {
	PublishArea(building string, alert *dispatch.Alert) error
}

// EventView is the combined per-event state exposed over the API.
type EventView struct {
	Incident *incident.Incident `json:"incident"`
	Ack      *ack.Record        `json:"ack,omitempty"`
}

// Service orchestrates the trigger-to-dispatch pipeline.
type Service struct {
	ingestor    Ingestor
	incidents   incident.Store
	dispatcher  Dispatcher
	tracker     Tracker
	areas       AreaResolver
	recipients  RecipientResolver
	broadcaster Broadcaster
	logger      log.Logger
}

// NewService creates a pipeline service. areas, recipients, and
// broadcaster may be nil when positioning or MQTT is not deployed.
func NewService(ingestor Ingestor, incidents incident.Store, dispatcher Dispatcher, tracker Tracker, areas AreaResolver, recipients RecipientResolver, broadcaster Broadcaster, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		ingestor:    ingestor,
		incidents:   incidents,
		dispatcher:  dispatcher,
		tracker:     tracker,
		areas:       areas,
		recipients:  recipients,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Submit validates a device signal, opens the incident, and kicks off the
// asynchronous fan-out. Rejections (unknown or deactivated device) are
// reported in the result, not as errors.
func (s *Service) Submit(ctx context.Context, deviceID string, sig trigger.Signal) (*SubmitResult, error) {
	ev, err := s.ingestor.Process(ctx, deviceID, sig)
	if err != nil {
		switch {
		case errors.Is(err, trigger.ErrUnknownDevice):
			return &SubmitResult{Rejected: true, Reason: "unknown device"}, nil
		case errors.Is(err, trigger.ErrInactiveDevice):
			return &SubmitResult{Rejected: true, Reason: "inactive device"}, nil
		}
		return nil, err
	}

	inc := &incident.Incident{
		ID:        ulid.Make().String(),
		EventID:   ev.ID,
		Scenario:  ev.Trigger.Policy.Scenario,
		Priority:  ev.Trigger.Policy.Priority,
		Event:     *ev,
		CreatedAt: time.Now(),
	}
	if err := s.incidents.Create(ctx, inc); err != nil {
		return nil, fmt.Errorf("open incident: %w", err)
	}

	// fan out off the request path - the caller gets a 202, not the
	// delivery outcome.
	go s.runDispatch(context.WithoutCancel(ctx), inc.ID, ev)

	return &SubmitResult{EventID: ev.ID, IncidentID: inc.ID}, nil
}

func (s *Service) runDispatch(ctx context.Context, incidentID string, ev *trigger.Event) {
	L := s.logger.With("event_id", ev.ID, "incident_id", incidentID, "scenario", ev.Trigger.Policy.Scenario)

	res := s.dispatcher.Dispatch(ctx, ev)
	s.tracker.Track(ctx, ev)
	ev.Processed = true

	detail := deliveryDetail(res)
	if err := s.incidents.AppendUpdate(ctx, incidentID, &incident.Update{
		Kind:   incident.UpdateDispatched,
		Detail: detail,
		At:     time.Now(),
	}); err != nil {
		L.Error(ctx, err, "failed to record dispatch on incident")
	}

	if !res.Sent() {
		L.Warn(ctx, "no channel delivered the alert", "detail", detail)
		return
	}
	L.Info(ctx, "event dispatched", "detail", detail)
}

// Acknowledge records an acknowledgment, cancelling any escalation timer,
// and appends it to the incident timeline.
func (s *Service) Acknowledge(ctx context.Context, eventID, by, note string) (*ack.Record, error) {
	rec, err := s.tracker.Acknowledge(ctx, eventID, by, note)
	if err != nil {
		return nil, err
	}
	s.appendByEvent(ctx, eventID, &incident.Update{
		Kind:  incident.UpdateAcknowledged,
		Actor: by, Detail: note, At: time.Now(),
	})
	return rec, nil
}

// Advance applies a responder status transition and appends it to the
// incident timeline.
func (s *Service) Advance(ctx context.Context, eventID string, to ack.Status, by, note string) (*ack.Record, error) {
	rec, err := s.tracker.Advance(ctx, eventID, to, by, note)
	if err != nil {
		return nil, err
	}
	s.appendByEvent(ctx, eventID, &incident.Update{
		Kind:  incident.UpdateStatus,
		Actor: by, Detail: string(to), At: time.Now(),
	})
	return rec, nil
}

// Escalate forces immediate escalation of an event. The timeline entry is
// written by the escalator backing the tracker, same as a timer fire.
func (s *Service) Escalate(ctx context.Context, eventID string) error {
	return s.tracker.Escalate(ctx, eventID)
}

// Event returns the incident record and acknowledgment state for an event.
func (s *Service) Event(ctx context.Context, eventID string) (*EventView, bool, error) {
	inc, ok, err := s.incidents.GetByEvent(ctx, eventID)
	if err != nil || !ok {
		return nil, false, err
	}
	view := &EventView{Incident: inc}
	if rec, ok := s.tracker.Get(eventID); ok {
		view.Ack = rec
	}
	return view, true, nil
}

// Incidents lists the most recent incidents, newest first.
func (s *Service) Incidents(ctx context.Context, limit int) ([]*incident.Incident, error) {
	return s.incidents.List(ctx, limit)
}

// AreaAlert composes an ad-hoc alert for everyone last seen in the target
// area and fans it out. The building-wide broadcast topic is addressed
// even when nobody is individually resolvable.
func (s *Service) AreaAlert(ctx context.Context, req AreaAlertRequest) (*dispatch.Result, error) {
	if s.areas == nil || s.recipients == nil {
		return nil, xerrors.New("positioning not deployed")
	}
	if req.Priority < 1 || req.Priority > 4 {
		return nil, xerrors.New("priority must be 1..4")
	}

	located := s.areas.InArea(req.Building, req.Floor, req.Zone, req.Center, req.RadiusM)
	var recipients []trigger.Recipient
	for _, est := range located {
		if r, ok := s.recipients.Resolve(est.EntityID); ok {
			recipients = append(recipients, r)
		}
	}

	alert := &dispatch.Alert{
		ID:       ulid.Make().String(),
		Title:    req.Title,
		Body:     req.Body,
		Scenario: req.Scenario,
		Priority: req.Priority,
		Location: &trigger.Location{
			Building: req.Building, Floor: req.Floor, Zone: req.Zone,
		},
		Recipients: recipients,
		Channels:   req.Channels,
	}

	if s.broadcaster != nil && req.Building != "" {
		if err := s.broadcaster.PublishArea(req.Building, alert); err != nil {
			s.logger.Error(ctx, err, "area broadcast failed", "building", req.Building)
		}
	}

	if len(recipients) == 0 {
		if s.broadcaster == nil {
			return nil, ErrNoRecipients
		}
		s.logger.Warn(ctx, "area alert resolved no recipients, broadcast only",
			"building", req.Building, "floor", req.Floor, "zone", req.Zone)
		return &dispatch.Result{EventID: alert.ID, PerChannel: map[string]*dispatch.ChannelResult{}}, nil
	}

	s.logger.Info(ctx, "area alert dispatched",
		"building", req.Building, "recipients", len(recipients))
	return s.dispatcher.DispatchAlert(ctx, alert), nil
}

func (s *Service) appendByEvent(ctx context.Context, eventID string, u *incident.Update) {
	inc, ok, err := s.incidents.GetByEvent(ctx, eventID)
	if err != nil || !ok {
		s.logger.Warn(ctx, "no incident for event, timeline entry dropped", "event_id", eventID)
		return
	}
	if err := s.incidents.AppendUpdate(ctx, inc.ID, u); err != nil {
		s.logger.Error(ctx, err, "failed to append incident update",
			"incident_id", inc.ID, "kind", u.Kind)
	}
}

func deliveryDetail(res *dispatch.Result) string {
	if len(res.PerChannel) == 0 {
		return "no channels addressed"
	}
	detail := ""
	for ch, cr := range res.PerChannel {
		if detail != "" {
			detail += ", "
		}
		detail += fmt.Sprintf("%s %d/%d", ch, cr.Sent, cr.Sent+cr.Failed)
	}
	return detail
}
