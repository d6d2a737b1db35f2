package site

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linnemanlabs/muster/internal/trigger"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write site file: %v", err)
	}
	return path
}

const validSite = `{
	"triggers": [
		{
			"id": "trg-1",
			"device_id": "dev-1",
			"type": "panic_button",
			"location": {"building": "hq", "floor": "2"},
			"is_active": true,
			"policy": {
				"scenario": "medical",
				"priority": 1,
				"channels": ["push", "paging"],
				"recipients": [{"id": "r1", "name": "Security", "push_target": "tok-1"}]
			}
		}
	],
	"recipients": [
		{"id": "r1", "name": "Security", "push_target": "tok-1"},
		{"id": "r2", "name": "Reception", "sms_number": "+4912345"}
	],
	"beacons": [
		{"id": "b1", "coords": {"x": 0, "y": 0}, "is_active": true}
	],
	"paging_devices": [
		{"id": "pd1", "address": "0042", "type": "pager", "is_active": true}
	]
}`

func TestLoad_ValidFile(t *testing.T) {
	t.Parallel()

	s, err := Load(writeFile(t, validSite))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(s.Triggers) != 1 {
		t.Fatalf("triggers = %d, want 1", len(s.Triggers))
	}
	trg := s.Triggers[0]
	if trg.DeviceID != "dev-1" || trg.Type != trigger.TypePanicButton {
		t.Errorf("trigger = %+v, want dev-1 panic_button", trg)
	}
	if trg.Policy.Priority != 1 || len(trg.Policy.Channels) != 2 {
		t.Errorf("policy = %+v, want priority 1 with 2 channels", trg.Policy)
	}
	if len(s.Recipients) != 2 || len(s.Beacons) != 1 || len(s.PagingDevices) != 1 {
		t.Errorf("counts = %d/%d/%d, want 2 recipients, 1 beacon, 1 paging device",
			len(s.Recipients), len(s.Beacons), len(s.PagingDevices))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	t.Parallel()

	_, err := Load(writeFile(t, "{not json"))
	if err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestLoad_RejectsInvalidProvisioning(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		substr  string
	}{
		{
			name:    "trigger without device id",
			content: `{"triggers": [{"id": "trg-1", "policy": {"priority": 1}}]}`,
			substr:  "device_id",
		},
		{
			name: "duplicate device id",
			content: `{"triggers": [
				{"id": "trg-1", "device_id": "dev-1", "policy": {"priority": 1}},
				{"id": "trg-2", "device_id": "dev-1", "policy": {"priority": 2}}
			]}`,
			substr: "duplicate trigger device_id",
		},
		{
			name:    "priority out of range",
			content: `{"triggers": [{"id": "trg-1", "device_id": "dev-1", "policy": {"priority": 5}}]}`,
			substr:  "out of range",
		},
		{
			name: "duplicate recipient id",
			content: `{"triggers": [], "recipients": [
				{"id": "r1", "name": "A"}, {"id": "r1", "name": "B"}
			]}`,
			substr: "duplicate recipient id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(writeFile(t, tt.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("error %q does not contain %q", err, tt.substr)
			}
		})
	}
}

func TestPagingLoader_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s, err := Load(writeFile(t, validSite))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	load := s.PagingLoader()
	first, err := load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(first) != 1 || first[0].ID != "pd1" {
		t.Fatalf("devices = %+v, want one device pd1", first)
	}

	first[0].Address = "mutated"
	second, _ := load(context.Background())
	if second[0].Address != "0042" {
		t.Errorf("address = %q, loader must hand out copies", second[0].Address)
	}
}

func TestRoster_ResolveAndPut(t *testing.T) {
	t.Parallel()

	roster := NewRoster([]trigger.Recipient{
		{ID: "r1", Name: "Security"},
	})

	if _, ok := roster.Resolve("r2"); ok {
		t.Error("Resolve(r2) = ok, want miss")
	}
	got, ok := roster.Resolve("r1")
	if !ok || got.Name != "Security" {
		t.Errorf("Resolve(r1) = %+v/%v, want Security", got, ok)
	}

	roster.Put(trigger.Recipient{ID: "r2", Name: "Reception"})
	if got, ok := roster.Resolve("r2"); !ok || got.Name != "Reception" {
		t.Errorf("Resolve(r2) after Put = %+v/%v, want Reception", got, ok)
	}
}
