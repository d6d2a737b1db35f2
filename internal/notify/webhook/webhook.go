// Package webhook delivers push notifications by POSTing alert payloads
// to a mobile push relay.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/muster/internal/dispatch"
	"github.com/linnemanlabs/muster/internal/trigger"
)

const httpTimeout = 10 * time.Second

// Notifier posts per-recipient alert payloads to a push relay endpoint.
type Notifier struct {
	endpoint string
	client   *http.Client
}

// New creates a push notifier. If endpoint is empty, Send is a no-op.
func New(endpoint string) *Notifier {
	return &Notifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: httpTimeout},
	}
}

// Name identifies the channel in trigger policies.
func (n *Notifier) Name() string { return "push" }

// payload is the relay's expected message shape.
type payload struct {
	Target   string            `json:"target"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Priority int               `json:"priority"`
	Scenario string            `json:"scenario"`
	Location *trigger.Location `json:"location,omitempty"`
	AlertID  string            `json:"alert_id"`
}

// Send posts the alert for one recipient. Recipients without a push
// target are skipped silently.
func (n *Notifier) Send(ctx context.Context, rcpt trigger.Recipient, alert *dispatch.Alert) error {
	if n.endpoint == "" || rcpt.PushTarget == "" {
		return nil
	}

	body, err := json.Marshal(payload{
		Target:   rcpt.PushTarget,
		Title:    alert.Title,
		Body:     alert.Body,
		Priority: alert.Priority,
		Scenario: alert.Scenario,
		Location: alert.Location,
		AlertID:  alert.ID,
	})
	if err != nil {
		return fmt.Errorf("push: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("push: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: endpoint is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("push: post relay: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push: relay returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
