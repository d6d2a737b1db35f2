package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/muster/internal/dispatch"
	"github.com/linnemanlabs/muster/internal/trigger"
)

func testAlert() *dispatch.Alert {
	return &dispatch.Alert{
		ID:       "01JN123",
		Title:    "PANIC BUTTON ACTIVATED",
		Body:     "medical at hq, floor 2",
		Priority: 1,
		Scenario: "medical",
		Location: &trigger.Location{Building: "hq", Floor: "2"},
	}
}

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	rcpt := trigger.Recipient{ID: "r1", Name: "Security"}

	if err := n.Send(context.Background(), rcpt, testAlert()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, divider, body, divider, context = 7 blocks
	if len(blocks) != 7 {
		t.Errorf("blocks count = %d, want 7", len(blocks))
	}

	raw, _ := json.Marshal(got)
	payload := string(raw)
	for _, want := range []string{"PANIC BUTTON ACTIVATED", "medical", "hq, floor 2", "Security", "01JN123"} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload does not contain %q", want)
		}
	}
}

func TestSend_EmptyURLIsNoop(t *testing.T) {
	t.Parallel()

	n := New("")
	if err := n.Send(context.Background(), trigger.Recipient{}, testAlert()); err != nil {
		t.Errorf("Send with empty url = %v, want nil", err)
	}
}

func TestSend_NonSuccessStatusIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	n := New(srv.URL)
	err := n.Send(context.Background(), trigger.Recipient{Name: "Security"}, testAlert())
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error = %q, want status code included", err)
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	if got := New("").Name(); got != "slack" {
		t.Errorf("Name() = %q, want %q", got, "slack")
	}
}

func TestPriorityEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		priority int
		want     string
	}{
		{1, "\U0001f534"},
		{2, "\U0001f7e0"},
		{3, "\U0001f7e1"},
		{4, "\U0001f7e2"},
		{0, "\U0001f7e2"},
	}
	for _, tt := range tests {
		if got := priorityEmoji(tt.priority); got != tt.want {
			t.Errorf("priorityEmoji(%d) = %q, want %q", tt.priority, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", maxBodyLen+100)
	got := truncate(long, maxBodyLen)
	if len(got) != maxBodyLen {
		t.Errorf("len = %d, want %d", len(got), maxBodyLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated text must end with ellipsis")
	}

	if got := truncate("short", maxBodyLen); got != "short" {
		t.Errorf("truncate(short) = %q, want unchanged", got)
	}
}
