// Package trigger defines the configured emergency-signal sources and the
// ingestion path that turns raw device signals into canonical events.
package trigger

import (
	"encoding/json"
	"time"

	"github.com/linnemanlabs/muster/internal/position"
)

// Type identifies the kind of physical or virtual trigger source.
type Type string

const (
	TypePanicButton     Type = "panic_button"
	TypeNFCTag          Type = "nfc_tag"
	TypeFirePanel       Type = "fire_panel"
	TypeManualCallPoint Type = "manual_call_point"
	TypeQRCode          Type = "qr_code"
	TypeVoiceCommand    Type = "voice_command"
)

// Location is the canonical static location configured for a trigger.
type Location struct {
	Building string          `json:"building"`
	Floor    string          `json:"floor"`
	Zone     string          `json:"zone,omitempty"`
	Coords   *position.Point `json:"coords,omitempty"`
}

// Recipient is an alert target identity with per-channel addresses.
type Recipient struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PushTarget   string `json:"push_target,omitempty"`
	SMSNumber    string `json:"sms_number,omitempty"`
	Email        string `json:"email,omitempty"`
	PagerAddress string `json:"pager_address,omitempty"`
}

// Policy is the dispatch policy configured per trigger.
type Policy struct {
	Scenario             string        `json:"scenario"`
	Priority             int           `json:"priority"` // 1 (highest) .. 4
	AutoEscalate         bool          `json:"auto_escalate"`
	LocationScoped       bool          `json:"location_scoped"`
	Channels             []string      `json:"channels"`
	Recipients           []Recipient   `json:"recipients"`
	EscalationRecipients []Recipient   `json:"escalation_recipients,omitempty"`
	EscalationTimeout    time.Duration `json:"escalation_timeout,omitempty"`
}

// Trigger is a provisioned emergency-signal source. Triggers are mutated
// only by administrative configuration and deactivated rather than deleted
// to preserve audit history.
type Trigger struct {
	ID       string   `json:"id"`
	DeviceID string   `json:"device_id"`
	Type     Type     `json:"type"`
	Location Location `json:"location"`
	Active   bool     `json:"is_active"`
	Policy   Policy   `json:"policy"`
}

// Signal is the raw payload produced by a physical activation (scan, press,
// relay closure, recognized voice command).
type Signal struct {
	ScannerIdentity string          `json:"scanner_identity,omitempty"`
	Note            string          `json:"note,omitempty"`
	PhotoRefs       []string        `json:"photo_refs,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// Event is one immutable record of a trigger firing. It snapshots the
// trigger's location and policy at ingestion time so later configuration
// edits never mutate in-flight events.
type Event struct {
	ID        string    `json:"id"`
	TriggerID string    `json:"trigger_id"`
	Timestamp time.Time `json:"timestamp"`
	Trigger   Trigger   `json:"trigger"`
	Signal    Signal    `json:"signal"`
	Processed bool      `json:"processed"`
}
