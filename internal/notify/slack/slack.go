// Package slack posts alert notifications to a Slack incoming webhook,
// giving the operations channel a live feed of dispatched alerts.
package slack

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

const (
	maxBodyLen  = 3000
	httpTimeout = 10 * time.Second
)

// Notifier sends alerts to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Name identifies the channel in trigger policies.
func (n *Notifier) Name() string { return "slack" }

// Send posts the alert to the configured Slack webhook. The webhook is
// channel-wide; the targeted recipient is named in the message context.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, rcpt trigger.Recipient, alert *dispatch.Alert) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(rcpt, alert)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(rcpt trigger.Recipient, alert *dispatch.Alert) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(alert),
			{"type": "divider"},
			fieldsBlock(rcpt, alert),
			{"type": "divider"},
			bodyBlock(alert),
			{"type": "divider"},
			contextBlock(alert),
		},
	}
}

func headerBlock(alert *dispatch.Alert) map[string]any {
	text := fmt.Sprintf("%s %s", priorityEmoji(alert.Priority), alert.Title)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(rcpt trigger.Recipient, alert *dispatch.Alert) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Scenario:* %s", alert.Scenario),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Priority:* P%d", alert.Priority),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Location:* %s", locationText(alert)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Recipient:* %s", rcpt.Name),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func bodyBlock(alert *dispatch.Alert) map[string]any {
	text := truncate(alert.Body, maxBodyLen)
	if text == "" {
		text = "_No detail available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(alert *dispatch.Alert) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("muster • alert %s • %s", alert.ID, time.Now().UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func locationText(alert *dispatch.Alert) string {
	if alert.Location == nil || alert.Location.Building == "" {
		return "unknown"
	}
	text := alert.Location.Building
	if alert.Location.Floor != "" {
		text += ", floor " + alert.Location.Floor
	}
	if alert.Location.Zone != "" {
		text += ", zone " + alert.Location.Zone
	}
	return text
}

func priorityEmoji(priority int) string {
	switch priority {
	case 1:
		return "\U0001f534" // red circle
	case 2:
		return "\U0001f7e0" // orange circle
	case 3:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
