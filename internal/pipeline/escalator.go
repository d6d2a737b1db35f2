package pipeline

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/muster/internal/dispatch"
	"github.com/linnemanlabs/muster/internal/incident"
	"github.com/linnemanlabs/muster/internal/trigger"
)

// recordingEscalator re-dispatches to the escalation tier and appends the
// escalation to the incident timeline. It backs the acknowledgment
// tracker's timers so timer-driven escalations leave the same audit trail
// as operator-driven ones.
type recordingEscalator struct {
	dispatcher Dispatcher
	incidents  incident.Store
	logger     log.Logger
}

// NewEscalator wraps the dispatcher for use by the acknowledgment tracker.
func NewEscalator(dispatcher Dispatcher, incidents incident.Store, logger log.Logger) *recordingEscalator { //nolint:revive // unexported return is deliberate, callers only need ack.Escalator
	if logger == nil {
		logger = log.Nop()
	}
	return &recordingEscalator{dispatcher: dispatcher, incidents: incidents, logger: logger}
}

// Escalate implements ack.Escalator.
func (e *recordingEscalator) Escalate(ctx context.Context, ev *trigger.Event) *dispatch.Result {
	res := e.dispatcher.Escalate(ctx, ev)

	inc, ok, err := e.incidents.GetByEvent(ctx, ev.ID)
	if err != nil || !ok {
		e.logger.Warn(ctx, "no incident for escalated event", "event_id", ev.ID)
		return res
	}
	if err := e.incidents.AppendUpdate(ctx, inc.ID, &incident.Update{
		Kind:   incident.UpdateEscalated,
		Detail: deliveryDetail(res),
		At:     time.Now(),
	}); err != nil {
		e.logger.Error(ctx, err, "failed to record escalation on incident",
			"incident_id", inc.ID)
	}
	return res
}

// Exhausted implements ack.Escalator. The escalation tier was paged and a
// full timeout elapsed with nobody acknowledging; the incident record is
// the operator-facing place that must show it.
func (e *recordingEscalator) Exhausted(ctx context.Context, ev *trigger.Event) {
	inc, ok, err := e.incidents.GetByEvent(ctx, ev.ID)
	if err != nil || !ok {
		e.logger.Warn(ctx, "no incident for exhausted event", "event_id", ev.ID)
		return
	}
	if err := e.incidents.AppendUpdate(ctx, inc.ID, &incident.Update{
		Kind:   incident.UpdateExhausted,
		Detail: "escalation tier unresponsive, manual intervention required",
		At:     time.Now(),
	}); err != nil {
		e.logger.Error(ctx, err, "failed to record exhausted escalation on incident",
			"incident_id", inc.ID)
	}
}
