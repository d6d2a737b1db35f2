package trigger

import "context"

// Registry is the configuration store for provisioned triggers, keyed by
// physical device id.
type Registry interface {
	Get(ctx context.Context, deviceID string) (*Trigger, bool, error)
	Put(ctx context.Context, t *Trigger) error
	Deactivate(ctx context.Context, deviceID string) error
	List(ctx context.Context) ([]*Trigger, error)
}
