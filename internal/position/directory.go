package position

import (
	"context"
	"math"
	"sync"

	"github.com/linnemanlabs/go-core/log"
)

// Directory holds the last known estimate per entity. Writes replace the
// whole entry atomically by key so concurrent readers never observe a
// half-updated record.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]*Estimate // entity ID -> latest estimate
}

// NewDirectory initializes an empty directory.
func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]*Estimate)}
}

// Update replaces the entity's last known estimate.
func (d *Directory) Update(est *Estimate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *est
	d.entries[est.EntityID] = &cp
}

// Get returns a copy of the entity's last known estimate.
func (d *Directory) Get(entityID string) (*Estimate, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[entityID]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// InArea resolves the entities whose last known position falls inside the
// given area. Floor and zone are matched only when non-empty; a positive
// radius additionally constrains by 2D distance from center.
func (d *Directory) InArea(building, floor, zone string, center *Point, radiusM float64) []*Estimate {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*Estimate
	for _, e := range d.entries {
		if building != "" && e.Building != building {
			continue
		}
		if floor != "" && e.Floor != floor {
			continue
		}
		if zone != "" && e.Zone != zone {
			continue
		}
		if center != nil && radiusM > 0 {
			dx := e.Coords.X - center.X
			dy := e.Coords.Y - center.Y
			if math.Hypot(dx, dy) > radiusM {
				continue
			}
		}
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// BeaconSet is an in-memory BeaconSource with atomic whole-entry
// replacement, provisioned once and rarely mutated.
type BeaconSet struct {
	mu      sync.RWMutex
	beacons map[string]*Beacon
}

// NewBeaconSet initializes a beacon set from the provisioned beacons.
func NewBeaconSet(beacons []Beacon) *BeaconSet {
	s := &BeaconSet{beacons: make(map[string]*Beacon, len(beacons))}
	for i := range beacons {
		cp := beacons[i]
		s.beacons[cp.ID] = &cp
	}
	return s
}

// Get returns a copy of the beacon with the given id.
func (s *BeaconSet) Get(id string) (*Beacon, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.beacons[id]
	if !ok {
		return nil, false
	}
	cp := *b
	return &cp, true
}

// Put replaces a beacon entry atomically.
func (s *BeaconSet) Put(b Beacon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beacons[b.ID] = &b
}

// FingerprintStore is an append-only in-memory fingerprint database.
type FingerprintStore struct {
	mu           sync.RWMutex
	fingerprints []Fingerprint
}

// NewFingerprintStore initializes the store with calibration samples.
func NewFingerprintStore(samples []Fingerprint) *FingerprintStore {
	return &FingerprintStore{fingerprints: append([]Fingerprint(nil), samples...)}
}

// Add appends a calibration sample.
func (s *FingerprintStore) Add(fp Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints = append(s.fingerprints, fp)
}

// All returns the stored fingerprints.
func (s *FingerprintStore) All() []Fingerprint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Fingerprint(nil), s.fingerprints...)
}

// Poller refreshes the directory on a polling cadence for a fixed set of
// tracked entities. Scheduling is owned by the caller (cron in cmd/server).
type Poller struct {
	estimator *Estimator
	directory *Directory
	logger    log.Logger
}

// NewPoller creates a poller that writes fresh estimates into the directory.
func NewPoller(estimator *Estimator, directory *Directory, logger log.Logger) *Poller {
	if logger == nil {
		logger = log.Nop()
	}
	return &Poller{estimator: estimator, directory: directory, logger: logger}
}

// Poll re-estimates each entity, superseding its last known position.
// Unavailable estimates leave the previous entry in place.
func (p *Poller) Poll(ctx context.Context, entityIDs []string) {
	for _, id := range entityIDs {
		est, err := p.estimator.Estimate(ctx, id)
		if err != nil {
			continue
		}
		p.directory.Update(est)
	}
}
