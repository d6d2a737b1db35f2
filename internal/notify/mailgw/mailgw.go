// Package mailgw delivers alerts by email through a JSON mail API.
package mailgw

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

const httpTimeout = 15 * time.Second

// Notifier sends alerts through a JSON mail API.
type Notifier struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
}

// New creates an email notifier. If endpoint is empty, Send is a no-op.
func New(endpoint, apiKey, from string) *Notifier {
	return &Notifier{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		client:   &http.Client{Timeout: httpTimeout},
	}
}

// Name identifies the channel in trigger policies.
func (n *Notifier) Name() string { return "email" }

type message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Send delivers the alert as one email. Recipients without an email
// address are skipped silently.
func (n *Notifier) Send(ctx context.Context, rcpt trigger.Recipient, alert *dispatch.Alert) error {
	if n.endpoint == "" || rcpt.Email == "" {
		return nil
	}

	body, err := json.Marshal(message{
		From:    n.from,
		To:      rcpt.Email,
		Subject: fmt.Sprintf("[P%d] %s", alert.Priority, alert.Title),
		Text:    alert.Body,
	})
	if err != nil {
		return fmt.Errorf("email: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("email: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.client.Do(req) //nolint:gosec // G704: endpoint is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("email: post api: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email: api returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
