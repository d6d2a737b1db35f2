// Package paging is a stateful adapter to an ESPA-style paging network:
// device registry, message encoding, connection/heartbeat, and
// acknowledgment correlation.
package paging

import "time"

// State is the adapter connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// DeviceType identifies the kind of paging endpoint.
type DeviceType string

const (
	DevicePager   DeviceType = "pager"
	DeviceDisplay DeviceType = "display"
	DevicePrinter DeviceType = "printer"
	DeviceMobile  DeviceType = "mobile"
)

// Device is an addressable endpoint on the paging network, mutated by
// periodic registry refresh.
type Device struct {
	ID             string     `json:"id"`
	Address        string     `json:"address"` // short numeric address
	Type           DeviceType `json:"type"`
	Active         bool       `json:"is_active"`
	BatteryLevel   *int       `json:"battery_level,omitempty"`
	SignalStrength *int       `json:"signal_strength,omitempty"`
	LastSeen       time.Time  `json:"last_seen"`
}

// Message is one transmitted page. Created when sent, mutated once on
// acknowledgment, never deleted (audit trail).
type Message struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Priority     int       `json:"priority"` // 1 (highest) .. 4
	Address      string    `json:"address"`
	Body         string    `json:"body"`
	Acknowledged bool      `json:"acknowledged"`
	AckedBy      string    `json:"acknowledged_by,omitempty"`
	AckedAt      time.Time `json:"acknowledged_at,omitempty"`
}

// priorityGlyphs is the fixed textual/emoji prefix convention per level.
var priorityGlyphs = map[int]string{
	1: "\U0001f534 EMERG",  // red circle
	2: "\U0001f7e0 URGENT", // orange circle
	3: "\U0001f7e1 NOTICE", // yellow circle
	4: "\U0001f7e2 INFO",   // green circle
}
