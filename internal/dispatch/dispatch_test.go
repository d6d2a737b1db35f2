package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/muster/internal/paging"
	"github.com/linnemanlabs/muster/internal/position"
	"github.com/linnemanlabs/muster/internal/trigger"
)

// mockNotifier records sends and fails a configurable number of times
// per recipient.
type mockNotifier struct {
	name      string
	mu        sync.Mutex
	sends     []string // recipient IDs in send order
	failFor   map[string]int
	alwaysErr error
}

func newMockNotifier(name string) *mockNotifier {
	return &mockNotifier{name: name, failFor: make(map[string]int)}
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Send(_ context.Context, rcpt trigger.Recipient, _ *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, rcpt.ID)
	if m.alwaysErr != nil {
		return m.alwaysErr
	}
	if n := m.failFor[rcpt.ID]; n > 0 {
		m.failFor[rcpt.ID] = n - 1
		return errors.New("transient failure")
	}
	return nil
}

func (m *mockNotifier) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sends)
}

// mockPager implements Pager.
type mockPager struct {
	mu      sync.Mutex
	err     error
	targets []string
}

func (m *mockPager) Send(_ context.Context, _ string, _ int, targetIDs []string) ([]*paging.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = targetIDs
	if m.err != nil {
		return nil, m.err
	}
	msgs := make([]*paging.Message, len(targetIDs))
	for i, id := range targetIDs {
		msgs[i] = &paging.Message{ID: "pm-" + id, Address: id}
	}
	return msgs, nil
}

// mockEstimator implements PositionSource.
type mockEstimator struct {
	est *position.Estimate
	err error
}

func (m *mockEstimator) Estimate(_ context.Context, entityID string) (*position.Estimate, error) {
	if m.err != nil {
		return nil, m.err
	}
	cp := *m.est
	cp.EntityID = entityID
	return &cp, nil
}

func fastRetry() Options {
	return Options{Retry: RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond}}
}

func testEvent() *trigger.Event {
	return &trigger.Event{
		ID:        "ev-1",
		TriggerID: "trg-1",
		Timestamp: time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC),
		Trigger: trigger.Trigger{
			ID:       "trg-1",
			DeviceID: "dev-1",
			Type:     trigger.TypePanicButton,
			Location: trigger.Location{Building: "hq", Floor: "2", Zone: "east"},
			Policy: trigger.Policy{
				Scenario: "panic",
				Priority: 1,
				Channels: []string{"push", "sms"},
				Recipients: []trigger.Recipient{
					{ID: "r1", Name: "Coordinator", PagerAddress: "pg-1"},
					{ID: "r2", Name: "Facility Manager"},
				},
				EscalationRecipients: []trigger.Recipient{
					{ID: "r3", Name: "Site Director"},
				},
			},
		},
	}
}

func TestCompose_TitlesPerTriggerType(t *testing.T) {
	t.Parallel()

	cases := map[trigger.Type]string{
		trigger.TypePanicButton:     "PANIC BUTTON ACTIVATED",
		trigger.TypeFirePanel:       "FIRE PANEL ALARM",
		trigger.TypeNFCTag:          "NFC EMERGENCY TRIGGER",
		trigger.TypeManualCallPoint: "MANUAL CALL POINT ACTIVATED",
		trigger.TypeQRCode:          "QR EMERGENCY TRIGGER",
		trigger.TypeVoiceCommand:    "VOICE EMERGENCY COMMAND",
	}
	for typ, want := range cases {
		ev := testEvent()
		ev.Trigger.Type = typ
		al := Compose(ev, ev.Trigger.Policy.Recipients)
		if al.Title != want {
			t.Errorf("title for %s = %q, want %q", typ, al.Title, want)
		}
	}
}

func TestDispatch_AllChannelsSucceed(t *testing.T) {
	t.Parallel()

	push := newMockNotifier("push")
	sms := newMockNotifier("sms")
	d := NewDispatcher([]Notifier{push, sms}, nil, nil, nil, fastRetry(), Hooks{}, log.Nop())

	res := d.Dispatch(context.Background(), testEvent())

	if res.PerChannel["push"].Sent != 2 || res.PerChannel["push"].Failed != 0 {
		t.Errorf("push = %+v, want 2 sent", res.PerChannel["push"])
	}
	if res.PerChannel["sms"].Sent != 2 {
		t.Errorf("sms = %+v, want 2 sent", res.PerChannel["sms"])
	}
	if !res.Sent() {
		t.Error("expected Sent() true")
	}
}

func TestDispatch_PartialChannelFailureIsIndependent(t *testing.T) {
	t.Parallel()

	push := newMockNotifier("push")
	sms := newMockNotifier("sms")
	sms.alwaysErr = errors.New("gateway down")
	d := NewDispatcher([]Notifier{push, sms}, nil, nil, nil, fastRetry(), Hooks{}, log.Nop())

	res := d.Dispatch(context.Background(), testEvent())

	if res.PerChannel["push"].Sent != 2 {
		t.Errorf("push = %+v, one channel's failure must not block another", res.PerChannel["push"])
	}
	if res.PerChannel["sms"].Failed != 2 {
		t.Errorf("sms = %+v, want 2 failed", res.PerChannel["sms"])
	}
	if !res.Sent() {
		t.Error("partial delivery still counts as delivered")
	}
}

func TestDispatch_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	push := newMockNotifier("push")
	push.failFor["r1"] = 2 // fails twice, succeeds on third try

	ev := testEvent()
	ev.Trigger.Policy.Channels = []string{"push"}
	d := NewDispatcher([]Notifier{push}, nil, nil, nil, fastRetry(), Hooks{}, log.Nop())

	res := d.Dispatch(context.Background(), ev)
	if res.PerChannel["push"].Sent != 2 {
		t.Errorf("push = %+v, want transient failure retried to success", res.PerChannel["push"])
	}
	// r1 attempted 3 times, r2 once
	if got := push.sendCount(); got != 4 {
		t.Errorf("send attempts = %d, want 4", got)
	}
}

func TestDispatch_PagingChannel(t *testing.T) {
	t.Parallel()

	pager := &mockPager{}
	ev := testEvent()
	ev.Trigger.Policy.Channels = []string{ChannelPaging}
	d := NewDispatcher(nil, pager, nil, nil, fastRetry(), Hooks{}, log.Nop())

	res := d.Dispatch(context.Background(), ev)

	// only r1 carries a pager address
	if len(pager.targets) != 1 || pager.targets[0] != "pg-1" {
		t.Fatalf("pager targets = %v, want [pg-1]", pager.targets)
	}
	if res.PerChannel[ChannelPaging].Sent != 1 {
		t.Errorf("paging = %+v, want 1 sent", res.PerChannel[ChannelPaging])
	}
}

func TestDispatch_PagingDisconnectedFailsChannelOnly(t *testing.T) {
	t.Parallel()

	pager := &mockPager{err: paging.ErrNotConnected}
	push := newMockNotifier("push")
	ev := testEvent()
	ev.Trigger.Policy.Channels = []string{"push", ChannelPaging}
	d := NewDispatcher([]Notifier{push}, pager, nil, nil, fastRetry(), Hooks{}, log.Nop())

	res := d.Dispatch(context.Background(), ev)

	if res.PerChannel[ChannelPaging].Failed != 1 {
		t.Errorf("paging = %+v, want 1 failed", res.PerChannel[ChannelPaging])
	}
	if res.PerChannel["push"].Sent != 2 {
		t.Errorf("push = %+v, paging failure must not block push", res.PerChannel["push"])
	}
}

func TestDispatch_LocationScopedNarrowing(t *testing.T) {
	t.Parallel()

	ev := testEvent()
	ev.Trigger.Policy.LocationScoped = true
	ev.Trigger.Policy.Channels = []string{"push"}

	est := &mockEstimator{est: &position.Estimate{Building: "hq", Floor: "2", Zone: "east"}}
	dir := position.NewDirectory()
	dir.Update(&position.Estimate{EntityID: "r1", Building: "hq", Floor: "2", Zone: "east"})
	dir.Update(&position.Estimate{EntityID: "r2", Building: "hq", Floor: "1", Zone: "west"})

	push := newMockNotifier("push")
	d := NewDispatcher([]Notifier{push}, nil, est, dir, fastRetry(), Hooks{}, log.Nop())

	res := d.Dispatch(context.Background(), ev)
	if res.PerChannel["push"].Sent != 1 {
		t.Fatalf("push = %+v, want narrowed to 1 recipient", res.PerChannel["push"])
	}
	if push.sends[0] != "r1" {
		t.Errorf("narrowed recipient = %q, want r1", push.sends[0])
	}
}

func TestDispatch_FallbackWhenEstimateUnavailable(t *testing.T) {
	t.Parallel()

	ev := testEvent()
	ev.Trigger.Policy.LocationScoped = true
	ev.Trigger.Policy.Channels = []string{"push"}

	est := &mockEstimator{err: position.ErrNotAvailable}
	push := newMockNotifier("push")
	d := NewDispatcher([]Notifier{push}, nil, est, position.NewDirectory(), fastRetry(), Hooks{}, log.Nop())

	res := d.Dispatch(context.Background(), ev)
	if res.PerChannel["push"].Sent != 2 {
		t.Fatalf("push = %+v, want full static recipient list on fallback", res.PerChannel["push"])
	}
}

func TestDispatch_FallbackWhenNarrowingEmpty(t *testing.T) {
	t.Parallel()

	ev := testEvent()
	ev.Trigger.Policy.LocationScoped = true
	ev.Trigger.Policy.Channels = []string{"push"}

	est := &mockEstimator{est: &position.Estimate{Building: "hq", Floor: "2"}}
	// nobody's last known position matches
	dir := position.NewDirectory()
	dir.Update(&position.Estimate{EntityID: "r1", Building: "annex"})

	push := newMockNotifier("push")
	d := NewDispatcher([]Notifier{push}, nil, est, dir, fastRetry(), Hooks{}, log.Nop())

	res := d.Dispatch(context.Background(), ev)
	if res.PerChannel["push"].Sent != 2 {
		t.Fatalf("push = %+v, empty narrowed set must fall back to static list", res.PerChannel["push"])
	}
}

func TestEscalate_UsesEscalationTier(t *testing.T) {
	t.Parallel()

	push := newMockNotifier("push")
	ev := testEvent()
	ev.Trigger.Policy.Channels = []string{"push"}
	d := NewDispatcher([]Notifier{push}, nil, nil, nil, fastRetry(), Hooks{}, log.Nop())

	res := d.Escalate(context.Background(), ev)
	if res.PerChannel["push"].Sent != 1 {
		t.Fatalf("push = %+v, want 1 sent to escalation tier", res.PerChannel["push"])
	}
	if push.sends[0] != "r3" {
		t.Errorf("escalation recipient = %q, want r3", push.sends[0])
	}
}

func TestDispatch_UnknownChannelSkipped(t *testing.T) {
	t.Parallel()

	ev := testEvent()
	ev.Trigger.Policy.Channels = []string{"carrier-pigeon"}
	d := NewDispatcher(nil, nil, nil, nil, fastRetry(), Hooks{}, log.Nop())

	res := d.Dispatch(context.Background(), ev)
	if len(res.PerChannel) != 0 {
		t.Fatalf("PerChannel = %v, want empty for unknown channel", res.PerChannel)
	}
	if res.Sent() {
		t.Error("nothing was delivered")
	}
}

func TestDispatch_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	inFlight, peak := 0, 0

	slow := &funcNotifier{name: "push", fn: func() error {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}}

	ev := testEvent()
	ev.Trigger.Policy.Channels = []string{"push"}
	ev.Trigger.Policy.Recipients = nil
	for i := 0; i < 20; i++ {
		ev.Trigger.Policy.Recipients = append(ev.Trigger.Policy.Recipients,
			trigger.Recipient{ID: string(rune('a' + i))})
	}

	opts := fastRetry()
	opts.MaxInFlight = 4
	d := NewDispatcher([]Notifier{slow}, nil, nil, nil, opts, Hooks{}, log.Nop())
	d.Dispatch(context.Background(), ev)

	mu.Lock()
	defer mu.Unlock()
	if peak > 4 {
		t.Errorf("peak concurrent sends = %d, want <= 4", peak)
	}
}

type funcNotifier struct {
	name string
	fn   func() error
}

func (f *funcNotifier) Name() string { return f.name }
func (f *funcNotifier) Send(_ context.Context, _ trigger.Recipient, _ *Alert) error {
	return f.fn()
}
