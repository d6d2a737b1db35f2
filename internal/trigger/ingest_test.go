package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"
)

// mockRegistry implements Registry for testing.
type mockRegistry struct {
	mu       sync.Mutex
	triggers map[string]*Trigger
	getErr   error
}

func newMockRegistry(triggers ...*Trigger) *mockRegistry {
	m := &mockRegistry{triggers: make(map[string]*Trigger)}
	for _, t := range triggers {
		m.triggers[t.DeviceID] = t
	}
	return m
}

func (m *mockRegistry) Get(_ context.Context, deviceID string) (*Trigger, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	t, ok := m.triggers[deviceID]
	if !ok {
		return nil, false, nil
	}
	cp := *t
	return &cp, true, nil
}

func (m *mockRegistry) Put(_ context.Context, t *Trigger) error { return nil }
func (m *mockRegistry) Deactivate(_ context.Context, _ string) error {
	return nil
}
func (m *mockRegistry) List(_ context.Context) ([]*Trigger, error) { return nil, nil }

func testTrigger() *Trigger {
	return &Trigger{
		ID:       "trg-1",
		DeviceID: "dev-1",
		Type:     TypePanicButton,
		Active:   true,
		Location: Location{Building: "hq", Floor: "2", Zone: "east"},
		Policy: Policy{
			Scenario: "panic",
			Priority: 1,
			Channels: []string{"push"},
			Recipients: []Recipient{
				{ID: "r1", Name: "Coordinator"},
			},
		},
	}
}

func TestProcess_UnknownDeviceRejected(t *testing.T) {
	t.Parallel()

	ing := NewIngestor(newMockRegistry(), log.Nop())

	ev, err := ing.Process(context.Background(), "device-x", Signal{})
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("err = %v, want ErrUnknownDevice", err)
	}
	if ev != nil {
		t.Fatal("no event may be created for a rejected signal")
	}
}

func TestProcess_InactiveDeviceRejected(t *testing.T) {
	t.Parallel()

	trg := testTrigger()
	trg.Active = false
	ing := NewIngestor(newMockRegistry(trg), log.Nop())

	ev, err := ing.Process(context.Background(), "dev-1", Signal{})
	if !errors.Is(err, ErrInactiveDevice) {
		t.Fatalf("err = %v, want ErrInactiveDevice", err)
	}
	if ev != nil {
		t.Fatal("no event may be created for a rejected signal")
	}
}

func TestProcess_CreatesEventWithSnapshot(t *testing.T) {
	t.Parallel()

	reg := newMockRegistry(testTrigger())
	ing := NewIngestor(reg, log.Nop())

	sig := Signal{ScannerIdentity: "guard-7", Note: "smoke on 2F"}
	ev, err := ing.Process(context.Background(), "dev-1", sig)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if ev.ID == "" {
		t.Error("expected a fresh event id")
	}
	if ev.TriggerID != "trg-1" {
		t.Errorf("trigger id = %q, want trg-1", ev.TriggerID)
	}
	if ev.Trigger.Location.Building != "hq" {
		t.Errorf("snapshot building = %q, want hq", ev.Trigger.Location.Building)
	}
	if ev.Signal.ScannerIdentity != "guard-7" {
		t.Errorf("signal identity = %q, want guard-7", ev.Signal.ScannerIdentity)
	}
	if ev.Processed {
		t.Error("new events start unprocessed")
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
}

func TestProcess_DuplicateActivationsAreDistinctEvents(t *testing.T) {
	t.Parallel()

	ing := NewIngestor(newMockRegistry(testTrigger()), log.Nop())

	ev1, err := ing.Process(context.Background(), "dev-1", Signal{})
	if err != nil {
		t.Fatalf("Process 1: %v", err)
	}
	ev2, err := ing.Process(context.Background(), "dev-1", Signal{})
	if err != nil {
		t.Fatalf("Process 2: %v", err)
	}
	if ev1.ID == ev2.ID {
		t.Error("ingestion must not dedup: two activations produce two events")
	}
}

func TestProcess_RegistryError(t *testing.T) {
	t.Parallel()

	reg := newMockRegistry()
	reg.getErr = errors.New("registry down")
	ing := NewIngestor(reg, log.Nop())

	if _, err := ing.Process(context.Background(), "dev-1", Signal{}); err == nil {
		t.Fatal("expected registry error to surface")
	}
}

func TestProcess_SnapshotIsolatedFromRegistryEdits(t *testing.T) {
	t.Parallel()

	reg := newMockRegistry(testTrigger())
	ing := NewIngestor(reg, log.Nop())

	ev, err := ing.Process(context.Background(), "dev-1", Signal{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	// admin edit after ingestion must not affect the event snapshot
	reg.mu.Lock()
	reg.triggers["dev-1"].Policy.Scenario = "maintenance"
	reg.mu.Unlock()

	if ev.Trigger.Policy.Scenario != "panic" {
		t.Error("event snapshot mutated by registry edit")
	}
}
