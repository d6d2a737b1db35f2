// Package smsgw delivers alerts as text messages through an HTTP SMS
// gateway that takes its parameters on the query string.
package smsgw

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/linnemanlabs/muster/internal/dispatch"
	"github.com/linnemanlabs/muster/internal/trigger"
)

const (
	httpTimeout = 15 * time.Second
	maxSMSLen   = 450 // three concatenated GSM segments
)

// Notifier sends alerts through an SMS gateway.
type Notifier struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// New creates an SMS notifier. If endpoint is empty, Send is a no-op.
func New(endpoint, apiKey string) *Notifier {
	return &Notifier{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: httpTimeout},
	}
}

// Name identifies the channel in trigger policies.
func (n *Notifier) Name() string { return "sms" }

// Send delivers the alert as one text message. Recipients without an SMS
// number are skipped silently.
func (n *Notifier) Send(ctx context.Context, rcpt trigger.Recipient, alert *dispatch.Alert) error {
	if n.endpoint == "" || rcpt.SMSNumber == "" {
		return nil
	}

	u, err := url.Parse(n.endpoint)
	if err != nil {
		return fmt.Errorf("sms: invalid endpoint: %w", err)
	}

	q := u.Query()
	q.Set("to", rcpt.SMSNumber)
	q.Set("text", truncate(alert.Title+": "+alert.Body, maxSMSLen))
	if n.apiKey != "" {
		q.Set("key", n.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("sms: create request: %w", err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: gateway request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms: gateway returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
