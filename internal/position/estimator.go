package position

import (
	"context"
	"math"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// ErrNotAvailable means neither signal path produced a usable estimate.
// Callers must fall back to statically configured locations.
var ErrNotAvailable = xerrors.New("position estimate not available")

const (
	// minSimilarity is the fingerprint match threshold below which the
	// WiFi path yields nothing.
	minSimilarity = 0.3

	// minRangingSamples is the number of beacon ranges trilateration needs.
	minRangingSamples = 3

	// collinearEps guards against near-collinear beacon geometry. A
	// determinant this close to zero would produce a degenerate position
	// with huge error, so the beacon path yields nothing instead.
	collinearEps = 1e-4

	wifiAccuracyM   = 3.0
	beaconAccuracyM = 1.0
)

// Scanner is the host-platform capability that produces live radio
// observations for an entity. Implementations are platform-specific;
// the estimator never touches a concrete sensor API.
type Scanner interface {
	WifiScan(ctx context.Context, entityID string) ([]APReading, error)
	BeaconRanges(ctx context.Context, entityID string) ([]RangingSample, error)
}

// FingerprintDB provides read-only access to the calibration database.
type FingerprintDB interface {
	All() []Fingerprint
}

// BeaconSource resolves beacon ids from ranging samples to coordinates.
type BeaconSource interface {
	Get(id string) (*Beacon, bool)
}

// Estimator fuses the WiFi-fingerprint and beacon-ranging paths into a
// single position estimate with accuracy and confidence.
type Estimator struct {
	scanner      Scanner
	fingerprints FingerprintDB
	beacons      BeaconSource
	logger       log.Logger
}

// NewEstimator creates an estimator with the given signal sources.
func NewEstimator(scanner Scanner, fingerprints FingerprintDB, beacons BeaconSource, logger log.Logger) *Estimator {
	if logger == nil {
		logger = log.Nop()
	}
	return &Estimator{
		scanner:      scanner,
		fingerprints: fingerprints,
		beacons:      beacons,
		logger:       logger,
	}
}

// Estimate computes the current position of an entity. If both paths
// succeed the results are fused by confidence-over-accuracy weighting;
// if only one succeeds it passes through unchanged; if neither succeeds
// Estimate returns ErrNotAvailable.
func (e *Estimator) Estimate(ctx context.Context, entityID string) (*Estimate, error) {
	wifi := e.wifiEstimate(ctx, entityID)
	beacon := e.beaconEstimate(ctx, entityID)

	switch {
	case wifi != nil && beacon != nil:
		return fuse(wifi, beacon), nil
	case wifi != nil:
		return wifi, nil
	case beacon != nil:
		return beacon, nil
	}
	return nil, ErrNotAvailable
}

// wifiEstimate matches a live scan against the fingerprint database.
// Returns nil when no fingerprint clears the similarity threshold.
func (e *Estimator) wifiEstimate(ctx context.Context, entityID string) *Estimate {
	scan, err := e.scanner.WifiScan(ctx, entityID)
	if err != nil || len(scan) == 0 {
		if err != nil {
			e.logger.Warn(ctx, "wifi scan failed", "entity_id", entityID, "error", err)
		}
		return nil
	}

	var best *Fingerprint
	bestSim := 0.0
	for _, fp := range e.fingerprints.All() {
		sim := similarity(scan, fp.AccessPoints)
		if sim > bestSim {
			bestSim = sim
			cp := fp
			best = &cp
		}
	}
	if best == nil || bestSim < minSimilarity {
		return nil
	}

	return &Estimate{
		EntityID:   entityID,
		Coords:     best.Location,
		Building:   best.Building,
		Floor:      best.Floor,
		Zone:       best.Zone,
		AccuracyM:  wifiAccuracyM,
		Confidence: math.Min(95, bestSim*100),
		Method:     MethodWifi,
		Timestamp:  time.Now(),
	}
}

// similarity compares a live scan against a stored fingerprint: intersect
// access points by BSSID and average the absolute RSSI delta over the
// intersection. An empty intersection scores zero.
func similarity(scan, stored []APReading) float64 {
	byBSSID := make(map[string]float64, len(stored))
	for _, ap := range stored {
		byBSSID[ap.BSSID] = ap.RSSI
	}

	var sumDelta float64
	var n int
	for _, ap := range scan {
		rssi, ok := byBSSID[ap.BSSID]
		if !ok {
			continue
		}
		sumDelta += math.Abs(ap.RSSI - rssi)
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Max(0, 1-(sumDelta/float64(n))/100)
}

// beaconEstimate trilaterates from the first three ranging samples.
// Returns nil with fewer than three samples, unknown/inactive beacons,
// or near-collinear geometry.
func (e *Estimator) beaconEstimate(ctx context.Context, entityID string) *Estimate {
	samples, err := e.scanner.BeaconRanges(ctx, entityID)
	if err != nil {
		e.logger.Warn(ctx, "beacon ranging failed", "entity_id", entityID, "error", err)
		return nil
	}
	if len(samples) < minRangingSamples {
		return nil
	}

	var pts [3]Point
	var ranges [3]float64
	for i := 0; i < 3; i++ {
		b, ok := e.beacons.Get(samples[i].BeaconID)
		if !ok || !b.Active {
			return nil
		}
		pts[i] = b.Coords
		ranges[i] = samples[i].Distance
	}

	coords, ok := trilaterate(pts, ranges)
	if !ok {
		return nil
	}

	meanDist := (ranges[0] + ranges[1] + ranges[2]) / 3
	return &Estimate{
		EntityID:   entityID,
		Coords:     coords,
		AccuracyM:  beaconAccuracyM,
		Confidence: math.Min(95, math.Max(20, 100-8*meanDist)),
		Method:     MethodBeacon,
		Timestamp:  time.Now(),
	}
}

// trilaterate solves the closed-form 2D trilateration system
// A·[x;y] = [C;F] for three reference points with measured ranges.
// ok=false when the points are near-collinear.
func trilaterate(p [3]Point, r [3]float64) (Point, bool) {
	a := 2 * (p[1].X - p[0].X)
	b := 2 * (p[1].Y - p[0].Y)
	d := 2 * (p[2].X - p[1].X)
	e := 2 * (p[2].Y - p[1].Y)

	det := a*e - b*d
	if math.Abs(det) < collinearEps {
		return Point{}, false
	}

	c := r[0]*r[0] - r[1]*r[1] - p[0].X*p[0].X + p[1].X*p[1].X - p[0].Y*p[0].Y + p[1].Y*p[1].Y
	f := r[1]*r[1] - r[2]*r[2] - p[1].X*p[1].X + p[2].X*p[2].X - p[1].Y*p[1].Y + p[2].Y*p[2].Y

	return Point{
		X: (c*e - b*f) / det,
		Y: (a*f - c*d) / det,
	}, true
}

// fuse combines two estimates by confidence-over-accuracy weighting. The
// fused accuracy is the more optimistic of the two and the confidence the
// higher; the coordinate is the weight-normalized average.
func fuse(wifi, beacon *Estimate) *Estimate {
	ww := wifi.Confidence / wifi.AccuracyM
	wb := beacon.Confidence / beacon.AccuracyM
	total := ww + wb

	fused := &Estimate{
		EntityID: wifi.EntityID,
		Coords: Point{
			X: (wifi.Coords.X*ww + beacon.Coords.X*wb) / total,
			Y: (wifi.Coords.Y*ww + beacon.Coords.Y*wb) / total,
			Z: (wifi.Coords.Z*ww + beacon.Coords.Z*wb) / total,
		},
		Building:   wifi.Building,
		Floor:      wifi.Floor,
		Zone:       wifi.Zone,
		AccuracyM:  math.Min(wifi.AccuracyM, beacon.AccuracyM),
		Confidence: math.Max(wifi.Confidence, beacon.Confidence),
		Method:     MethodHybrid,
		Timestamp:  time.Now(),
	}
	return fused
}
