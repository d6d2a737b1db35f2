// Package dispatch composes alert messages from trigger events and fans
// them out across notification channels and the paging network.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/muster/internal/paging"
	"github.com/linnemanlabs/muster/internal/position"
	"github.com/linnemanlabs/muster/internal/trigger"
)

// ChannelPaging is the reserved channel name for the paging network.
const ChannelPaging = "paging"

// Alert is the unit of dispatch, immutable once composed.
type Alert struct {
	ID         string              `json:"id"`
	Title      string              `json:"title"`
	Body       string              `json:"body"`
	Priority   int                 `json:"priority"`
	Scenario   string              `json:"scenario"`
	Location   *trigger.Location   `json:"location,omitempty"`
	Recipients []trigger.Recipient `json:"recipients"`
	Channels   []string            `json:"channels"`
}

// ChannelResult counts delivery outcomes for one channel.
type ChannelResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Result aggregates per-channel delivery counts for one event. Partial
// failure is a normal, expected outcome; Dispatch never errors on it.
type Result struct {
	EventID    string                    `json:"event_id"`
	PerChannel map[string]*ChannelResult `json:"per_channel"`
}

// Sent reports whether any channel delivered at least one message.
func (r *Result) Sent() bool {
	for _, c := range r.PerChannel {
		if c.Sent > 0 {
			return true
		}
	}
	return false
}

// Notifier is a single notification channel. Implementations must treat
// each Send independently; no channel is assumed reliable.
type Notifier interface {
	Name() string
	Send(ctx context.Context, rcpt trigger.Recipient, alert *Alert) error
}

// Pager is the paging network channel, satisfied by *paging.Adapter.
type Pager interface {
	Send(ctx context.Context, body string, priority int, targetIDs []string) ([]*paging.Message, error)
}

// PositionSource produces on-demand position estimates.
type PositionSource interface {
	Estimate(ctx context.Context, entityID string) (*position.Estimate, error)
}

// RecipientLocator resolves a recipient's last known position, satisfied
// by *position.Directory.
type RecipientLocator interface {
	Get(entityID string) (*position.Estimate, bool)
}

// RetryPolicy is the bounded backoff applied to each channel send. The
// paging channel is excluded: its fail-fast contract forbids blocking
// retries.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	MaxInFlight int // bound on concurrent sends per dispatch
	Retry       RetryPolicy
}

// Dispatcher owns alert composition and concurrent fan-out.
type Dispatcher struct {
	notifiers map[string]Notifier
	pager     Pager
	pos       PositionSource
	locator   RecipientLocator
	opts      Options
	hooks     Hooks
	logger    log.Logger
}

// NewDispatcher creates a dispatcher. pos and locator may be nil when no
// positioning is deployed; location-scoped policies then always fall back
// to static recipients.
func NewDispatcher(notifiers []Notifier, pager Pager, pos PositionSource, locator RecipientLocator, opts Options, hooks Hooks, logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 16
	}
	if opts.Retry.MaxTries == 0 {
		opts.Retry.MaxTries = 3
	}
	if opts.Retry.InitialInterval <= 0 {
		opts.Retry.InitialInterval = 100 * time.Millisecond
	}
	byName := make(map[string]Notifier, len(notifiers))
	for _, n := range notifiers {
		byName[n.Name()] = n
	}
	return &Dispatcher{
		notifiers: byName,
		pager:     pager,
		pos:       pos,
		locator:   locator,
		opts:      opts,
		hooks:     hooks,
		logger:    logger,
	}
}

// Dispatch composes an alert for the event and fans it out to the policy's
// recipients and channels. Location-scoped policies narrow recipients by
// last known position when an estimate is available and fall back to the
// static recipient list otherwise — emergency alerts are never dropped
// for lack of positioning data.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *trigger.Event) *Result {
	recipients := d.scopeRecipients(ctx, ev)
	return d.send(ctx, ev, recipients)
}

// Escalate re-dispatches the event's alert to its escalation tier. No
// location narrowing: escalation targets are addressed unconditionally.
func (d *Dispatcher) Escalate(ctx context.Context, ev *trigger.Event) *Result {
	return d.send(ctx, ev, ev.Trigger.Policy.EscalationRecipients)
}

// DispatchAlert fans out an already-composed alert (area broadcasts).
func (d *Dispatcher) DispatchAlert(ctx context.Context, alert *Alert) *Result {
	return d.fanOut(ctx, alert.ID, alert)
}

func (d *Dispatcher) send(ctx context.Context, ev *trigger.Event, recipients []trigger.Recipient) *Result {
	alert := Compose(ev, recipients)
	return d.fanOut(ctx, ev.ID, alert)
}

// Compose derives the alert deterministically from the trigger type,
// scenario, and policy snapshot carried on the event.
func Compose(ev *trigger.Event, recipients []trigger.Recipient) *Alert {
	pol := ev.Trigger.Policy
	return &Alert{
		ID:         ulid.Make().String(),
		Title:      titleFor(ev.Trigger.Type),
		Body:       bodyFor(ev),
		Priority:   pol.Priority,
		Scenario:   pol.Scenario,
		Location:   &ev.Trigger.Location,
		Recipients: recipients,
		Channels:   pol.Channels,
	}
}

func titleFor(t trigger.Type) string {
	switch t {
	case trigger.TypePanicButton:
		return "PANIC BUTTON ACTIVATED"
	case trigger.TypeFirePanel:
		return "FIRE PANEL ALARM"
	case trigger.TypeNFCTag:
		return "NFC EMERGENCY TRIGGER"
	case trigger.TypeManualCallPoint:
		return "MANUAL CALL POINT ACTIVATED"
	case trigger.TypeQRCode:
		return "QR EMERGENCY TRIGGER"
	case trigger.TypeVoiceCommand:
		return "VOICE EMERGENCY COMMAND"
	}
	return "EMERGENCY ALERT"
}

func bodyFor(ev *trigger.Event) string {
	loc := ev.Trigger.Location
	var b strings.Builder
	fmt.Fprintf(&b, "%s at %s", ev.Trigger.Policy.Scenario, loc.Building)
	if loc.Floor != "" {
		fmt.Fprintf(&b, ", floor %s", loc.Floor)
	}
	if loc.Zone != "" {
		fmt.Fprintf(&b, ", zone %s", loc.Zone)
	}
	if ev.Signal.Note != "" {
		fmt.Fprintf(&b, " — %s", ev.Signal.Note)
	}
	fmt.Fprintf(&b, " (%s)", ev.Timestamp.Format("15:04:05"))
	return b.String()
}

// scopeRecipients narrows the static recipient list to those whose last
// known position matches the target building/floor/zone. Estimation
// unavailability or an empty narrowed set falls back to the full static
// list — a hard requirement, not best-effort.
func (d *Dispatcher) scopeRecipients(ctx context.Context, ev *trigger.Event) []trigger.Recipient {
	pol := ev.Trigger.Policy
	if !pol.LocationScoped || d.pos == nil || d.locator == nil {
		return pol.Recipients
	}

	est, err := d.pos.Estimate(ctx, ev.Trigger.DeviceID)
	if err != nil {
		if !errors.Is(err, position.ErrNotAvailable) {
			d.logger.Warn(ctx, "position estimation failed, using static recipients",
				"event_id", ev.ID, "error", err)
		}
		d.hooks.onNarrowed(true)
		return pol.Recipients
	}

	building, floor, zone := est.Building, est.Floor, est.Zone
	if building == "" {
		building = ev.Trigger.Location.Building
		floor = ev.Trigger.Location.Floor
		zone = ev.Trigger.Location.Zone
	}

	var narrowed []trigger.Recipient
	for _, r := range pol.Recipients {
		known, ok := d.locator.Get(r.ID)
		if !ok {
			continue
		}
		if known.Building != building {
			continue
		}
		if floor != "" && known.Floor != floor {
			continue
		}
		if zone != "" && known.Zone != zone {
			continue
		}
		narrowed = append(narrowed, r)
	}
	if len(narrowed) == 0 {
		d.hooks.onNarrowed(true)
		return pol.Recipients
	}
	d.hooks.onNarrowed(false)
	return narrowed
}

// fanOut runs per-recipient, per-channel sends through a bounded
// semaphore. Each attempt is independent: one channel's failure never
// blocks another's.
func (d *Dispatcher) fanOut(ctx context.Context, eventID string, alert *Alert) *Result {
	start := time.Now()
	result := &Result{
		EventID:    eventID,
		PerChannel: make(map[string]*ChannelResult, len(alert.Channels)),
	}

	var mu sync.Mutex
	record := func(channel string, err error) {
		mu.Lock()
		defer mu.Unlock()
		cr, ok := result.PerChannel[channel]
		if !ok {
			cr = &ChannelResult{}
			result.PerChannel[channel] = cr
		}
		if err != nil {
			cr.Failed++
		} else {
			cr.Sent++
		}
	}

	sem := make(chan struct{}, d.opts.MaxInFlight)
	var wg sync.WaitGroup

	for _, channel := range alert.Channels {
		if channel == ChannelPaging {
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				d.sendPaging(ctx, alert, record)
			}()
			continue
		}

		n, ok := d.notifiers[channel]
		if !ok {
			d.logger.Warn(ctx, "unknown channel in policy", "channel", channel, "event_id", eventID)
			continue
		}
		for _, rcpt := range alert.Recipients {
			wg.Add(1)
			sem <- struct{}{}
			go func(n Notifier, rcpt trigger.Recipient) {
				defer wg.Done()
				defer func() { <-sem }()

				err := d.sendWithRetry(ctx, n, rcpt, alert)
				if err != nil {
					d.logger.Error(ctx, err, "channel send failed",
						"channel", n.Name(), "recipient", rcpt.ID, "event_id", eventID)
				}
				record(n.Name(), err)
				d.hooks.onChannelSend(n.Name(), err == nil)
			}(n, rcpt)
		}
	}

	wg.Wait()

	d.hooks.onDispatch(alert.Scenario, result.Sent(), time.Since(start).Seconds(), len(alert.Recipients))
	d.logger.Info(ctx, "dispatch complete",
		"event_id", eventID,
		"alert_id", alert.ID,
		"scenario", alert.Scenario,
		"recipients", len(alert.Recipients),
		"channels", len(result.PerChannel),
		"delivered", result.Sent(),
	)
	return result
}

// sendWithRetry wraps a channel send in bounded exponential backoff.
func (d *Dispatcher) sendWithRetry(ctx context.Context, n Notifier, rcpt trigger.Recipient, alert *Alert) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.opts.Retry.InitialInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, n.Send(ctx, rcpt, alert)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(d.opts.Retry.MaxTries))
	return err
}

// sendPaging addresses the whole recipient set in one adapter call,
// counting one outcome per targeted device. No retry: a disconnected
// adapter fails fast and the channel is recorded failed for this dispatch.
func (d *Dispatcher) sendPaging(ctx context.Context, alert *Alert, record func(string, error)) {
	if d.pager == nil {
		return
	}
	var targets []string
	for _, r := range alert.Recipients {
		if r.PagerAddress != "" {
			targets = append(targets, r.PagerAddress)
		}
	}
	if len(targets) == 0 {
		return
	}

	msgs, err := d.pager.Send(ctx, alert.Title+": "+alert.Body, alert.Priority, targets)
	for range msgs {
		record(ChannelPaging, nil)
		d.hooks.onChannelSend(ChannelPaging, true)
	}
	if err != nil {
		for i := len(msgs); i < len(targets); i++ {
			record(ChannelPaging, err)
			d.hooks.onChannelSend(ChannelPaging, false)
		}
	}
}
