// Package memreg provides an in-memory implementation of trigger.Registry.
package memreg

import (
	"context"
	"sync"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/muster/internal/trigger"
)

// ErrNotFound is returned when deactivating an unknown device.
var ErrNotFound = xerrors.New("trigger not found")

// Registry holds trigger configuration in memory. Writes replace the whole
// entry by key so concurrent readers never see a half-updated record.
type Registry struct {
	mu       sync.RWMutex
	triggers map[string]*trigger.Trigger // device ID -> trigger
}

// New initializes a registry from the provisioned triggers.
func New(triggers []trigger.Trigger) *Registry {
	r := &Registry{triggers: make(map[string]*trigger.Trigger, len(triggers))}
	for i := range triggers {
		cp := triggers[i]
		r.triggers[cp.DeviceID] = &cp
	}
	return r
}

// Get retrieves a trigger by device id. Returns a copy.
func (r *Registry) Get(_ context.Context, deviceID string) (*trigger.Trigger, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.triggers[deviceID]
	if !ok {
		return nil, false, nil
	}
	cp := *t
	return &cp, true, nil
}

// Put stores a copy of the trigger, replacing any existing entry.
func (r *Registry) Put(_ context.Context, t *trigger.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.triggers[t.DeviceID] = &cp
	return nil
}

// Deactivate marks a trigger inactive. Triggers are never deleted so the
// provisioning history stays auditable.
func (r *Registry) Deactivate(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.triggers[deviceID]
	if !ok {
		return ErrNotFound
	}
	cp := *t
	cp.Active = false
	r.triggers[deviceID] = &cp
	return nil
}

// List returns copies of all registered triggers.
func (r *Registry) List(_ context.Context) ([]*trigger.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*trigger.Trigger, 0, len(r.triggers))
	for _, t := range r.triggers {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}
