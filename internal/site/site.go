// Package site loads the static provisioning file for a deployment:
// triggers, the recipient roster, positioning calibration data, and the
// paging device registry.
package site

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/linnemanlabs/muster/internal/paging"
	"github.com/linnemanlabs/muster/internal/position"
	"github.com/linnemanlabs/muster/internal/trigger"
)

// Site is the provisioned deployment data. Mutations at runtime go through
// the respective registries; the file itself is read once at startup.
type Site struct {
	Triggers      []trigger.Trigger      `json:"triggers"`
	Recipients    []trigger.Recipient    `json:"recipients,omitempty"`
	Beacons       []position.Beacon      `json:"beacons,omitempty"`
	Fingerprints  []position.Fingerprint `json:"fingerprints,omitempty"`
	PagingDevices []paging.Device        `json:"paging_devices,omitempty"`
}

// Load reads and validates a provisioning file.
func Load(path string) (*Site, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("site: read %s: %w", path, err)
	}
	var s Site
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("site: parse %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("site: %s: %w", path, err)
	}
	return &s, nil
}

func (s *Site) validate() error {
	devices := make(map[string]bool, len(s.Triggers))
	for i := range s.Triggers {
		t := &s.Triggers[i]
		if t.ID == "" || t.DeviceID == "" {
			return fmt.Errorf("trigger %d: id and device_id are required", i)
		}
		if devices[t.DeviceID] {
			return fmt.Errorf("duplicate trigger device_id %q", t.DeviceID)
		}
		devices[t.DeviceID] = true
		if p := t.Policy.Priority; p < 1 || p > 4 {
			return fmt.Errorf("trigger %q: priority %d out of range 1..4", t.DeviceID, p)
		}
	}
	seen := make(map[string]bool, len(s.Recipients))
	for i := range s.Recipients {
		r := &s.Recipients[i]
		if r.ID == "" {
			return fmt.Errorf("recipient %d: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate recipient id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// PagingLoader returns a device loader serving the provisioned paging
// devices. Refreshes re-read the same static set; a live registry source
// can replace this without touching the adapter.
func (s *Site) PagingLoader() paging.DeviceLoader {
	devices := append([]paging.Device(nil), s.PagingDevices...)
	return func(_ context.Context) ([]paging.Device, error) {
		return append([]paging.Device(nil), devices...), nil
	}
}

// Roster resolves recipients by id for location-based addressing.
type Roster struct {
	mu   sync.RWMutex
	byID map[string]trigger.Recipient
}

// NewRoster indexes the provisioned recipients by id.
func NewRoster(recipients []trigger.Recipient) *Roster {
	byID := make(map[string]trigger.Recipient, len(recipients))
	for _, r := range recipients {
		byID[r.ID] = r
	}
	return &Roster{byID: byID}
}

// Resolve returns the recipient with the given entity id.
func (r *Roster) Resolve(entityID string) (trigger.Recipient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rcpt, ok := r.byID[entityID]
	return rcpt, ok
}

// Put replaces a roster entry atomically.
func (r *Roster) Put(rcpt trigger.Recipient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[rcpt.ID] = rcpt
}
