package trigger

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
)

// Rejection reasons. A rejected signal never creates an event: unregistered
// hardware must not be able to inject alerts.
var (
	ErrUnknownDevice  = xerrors.New("unknown trigger device")
	ErrInactiveDevice = xerrors.New("inactive trigger device")
)

// Ingestor normalizes raw device signals into canonical events.
type Ingestor struct {
	registry Registry
	logger   log.Logger
}

// NewIngestor creates an ingestor backed by the given registry.
func NewIngestor(registry Registry, logger log.Logger) *Ingestor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Ingestor{registry: registry, logger: logger}
}

// Process looks up the device and allocates a new event with a fresh id,
// the current timestamp, and a snapshot of the trigger's location and
// policy. Unknown or inactive devices are rejected before any event
// exists. The same physical activation occurring twice produces two
// distinct events; suppression belongs to the dispatch/escalation layer.
func (i *Ingestor) Process(ctx context.Context, deviceID string, sig Signal) (*Event, error) {
	t, ok, err := i.registry.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		i.logger.Warn(ctx, "signal from unregistered device rejected", "device_id", deviceID)
		return nil, ErrUnknownDevice
	}
	if !t.Active {
		i.logger.Warn(ctx, "signal from inactive device rejected",
			"device_id", deviceID, "trigger_id", t.ID)
		return nil, ErrInactiveDevice
	}

	ev := &Event{
		ID:        ulid.Make().String(),
		TriggerID: t.ID,
		Timestamp: time.Now(),
		Trigger:   *t,
		Signal:    sig,
		Processed: false,
	}

	i.logger.Info(ctx, "trigger event created",
		"event_id", ev.ID,
		"trigger_id", t.ID,
		"device_id", deviceID,
		"type", t.Type,
		"scenario", t.Policy.Scenario,
	)
	return ev, nil
}
