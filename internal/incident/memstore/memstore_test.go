package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/muster/internal/incident"
	"github.com/linnemanlabs/muster/internal/trigger"
)

func testIncident(id, eventID string, createdAt time.Time) *incident.Incident {
	return &incident.Incident{
		ID:        id,
		EventID:   eventID,
		Scenario:  "panic",
		Priority:  1,
		Event:     trigger.Event{ID: eventID, TriggerID: "trg-1"},
		CreatedAt: createdAt,
	}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	now := time.Now()

	if err := s.Create(ctx, testIncident("inc-1", "ev-1", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok, err := s.Get(ctx, "inc-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.EventID != "ev-1" || got.Scenario != "panic" {
		t.Errorf("got %+v", got)
	}

	byEv, ok, err := s.GetByEvent(ctx, "ev-1")
	if err != nil || !ok {
		t.Fatalf("GetByEvent: ok=%v err=%v", ok, err)
	}
	if byEv.ID != "inc-1" {
		t.Errorf("GetByEvent ID = %q, want inc-1", byEv.ID)
	}
}

func TestCreate_IdempotentOnEventID(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	now := time.Now()

	if err := s.Create(ctx, testIncident("inc-1", "ev-1", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// retry with a different incident id for the same event
	if err := s.Create(ctx, testIncident("inc-2", "ev-1", now)); err != nil {
		t.Fatalf("Create duplicate: %v", err)
	}

	if _, ok, _ := s.Get(ctx, "inc-2"); ok {
		t.Error("duplicate create must not open a second incident")
	}
	got, _, _ := s.GetByEvent(ctx, "ev-1")
	if got.ID != "inc-1" {
		t.Errorf("GetByEvent ID = %q, first record must win", got.ID)
	}
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	if _, ok, err := s.Get(context.Background(), "nope"); err != nil || ok {
		t.Fatalf("Get missing: ok=%v err=%v, want false nil", ok, err)
	}
	if _, ok, err := s.GetByEvent(context.Background(), "nope"); err != nil || ok {
		t.Fatalf("GetByEvent missing: ok=%v err=%v, want false nil", ok, err)
	}
}

func TestAppendUpdate_SequencesEntries(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, testIncident("inc-1", "ev-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, kind := range []string{incident.UpdateDispatched, incident.UpdateAcknowledged, incident.UpdateStatus} {
		if err := s.AppendUpdate(ctx, "inc-1", &incident.Update{Kind: kind, At: time.Now()}); err != nil {
			t.Fatalf("AppendUpdate %s: %v", kind, err)
		}
	}

	got, _, _ := s.Get(ctx, "inc-1")
	if len(got.Updates) != 3 {
		t.Fatalf("updates = %d, want 3", len(got.Updates))
	}
	for i, u := range got.Updates {
		if u.Seq != i+1 {
			t.Errorf("update %d seq = %d, want %d", i, u.Seq, i+1)
		}
	}
}

func TestAppendUpdate_UnknownIncident(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.AppendUpdate(context.Background(), "nope", &incident.Update{Kind: incident.UpdateNote})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"inc-1", "inc-2", "inc-3"} {
		inc := testIncident(id, "ev-"+id, now.Add(time.Duration(i)*time.Minute))
		if err := s.Create(ctx, inc); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	got, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("list = %d entries, want 2", len(got))
	}
	if got[0].ID != "inc-3" || got[1].ID != "inc-2" {
		t.Errorf("order = [%s %s], want newest first", got[0].ID, got[1].ID)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, testIncident("inc-1", "ev-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.AppendUpdate(ctx, "inc-1", &incident.Update{Kind: incident.UpdateNote, Detail: "original"}); err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}

	got, _, _ := s.Get(ctx, "inc-1")
	got.Scenario = "tampered"
	got.Updates[0].Detail = "tampered"

	fresh, _, _ := s.Get(ctx, "inc-1")
	if fresh.Scenario != "panic" || fresh.Updates[0].Detail != "original" {
		t.Error("caller mutation leaked into the store")
	}
}
