// Package position fuses WiFi-fingerprint and beacon-ranging signals into
// position estimates used for location-scoped alert addressing.
package position

import "time"

// Method identifies which signal path produced an estimate.
type Method string

const (
	// MethodWifi means the estimate came from fingerprint matching alone.
	MethodWifi Method = "wifi"

	// MethodBeacon means the estimate came from beacon trilateration alone.
	MethodBeacon Method = "beacon"

	// MethodHybrid means both paths succeeded and were fused.
	MethodHybrid Method = "hybrid"
)

// Point is a position in building coordinates, meters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// APReading is a single access point observation from a WiFi scan.
type APReading struct {
	BSSID     string  `json:"bssid"`
	RSSI      float64 `json:"rssi"`
	Frequency int     `json:"frequency,omitempty"`
}

// Fingerprint is a labeled calibration sample: a scan recorded at a known
// location. The fingerprint database is append-only and queried read-only
// at runtime.
type Fingerprint struct {
	Location     Point       `json:"location"`
	Building     string      `json:"building"`
	Floor        string      `json:"floor"`
	Zone         string      `json:"zone"`
	AccessPoints []APReading `json:"access_points"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Beacon is a static ranging reference point, provisioned once.
type Beacon struct {
	ID              string  `json:"id"`
	Coords          Point   `json:"coords"`
	TxPower         float64 `json:"transmit_power"`
	CalibratedRange float64 `json:"calibrated_range"`
	Active          bool    `json:"is_active"`
}

// RangingSample is one measured distance to a known beacon.
type RangingSample struct {
	BeaconID string  `json:"beacon_id"`
	Distance float64 `json:"distance"`
}

// Estimate is a transient position fix for an entity. Only the latest
// estimate per entity is retained; older ones are superseded, not archived.
type Estimate struct {
	EntityID   string    `json:"entity_id"`
	Coords     Point     `json:"coords"`
	Building   string    `json:"building,omitempty"`
	Floor      string    `json:"floor,omitempty"`
	Zone       string    `json:"zone,omitempty"`
	AccuracyM  float64   `json:"accuracy_meters"`
	Confidence float64   `json:"confidence_percent"`
	Method     Method    `json:"method"`
	Timestamp  time.Time `json:"timestamp"`
}
