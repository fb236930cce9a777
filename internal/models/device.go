package models

import "math"

// DeviceStatus is the provider-reported connectivity of a tracker.
type DeviceStatus string

const (
	DeviceOnline   DeviceStatus = "online"
	DeviceOffline  DeviceStatus = "offline"
	DeviceInactive DeviceStatus = "inactive"
)

// Device is a GPS tracking unit registered with the provider.
type Device struct {
	ID         string       `bson:"id" json:"id"`
	IMEI       string       `bson:"imei" json:"imei"`
	Name       string       `bson:"name" json:"name"`
	Status     DeviceStatus `bson:"status" json:"status"`
	LastUpdate Timestamp    `bson:"last_update" json:"lastUpdate"`
	Position   *Position    `bson:"position,omitempty" json:"position,omitempty"`
}

// Position is a single fix reported by a device.
type Position struct {
	Lat       float64   `bson:"lat" json:"lat"`
	Lng       float64   `bson:"lng" json:"lng"`
	Speed     float64   `bson:"speed" json:"speed"`         // km/h
	Course    float64   `bson:"course" json:"course"`       // degrees, 0-360
	Altitude  float64   `bson:"altitude" json:"altitude"`   // metres
	Accuracy  float64   `bson:"accuracy" json:"accuracy"`   // metres
	Address   string    `bson:"address,omitempty" json:"address,omitempty"`
	Timestamp Timestamp `bson:"timestamp" json:"timestamp"`
}

// Normalized returns a copy with speed clamped to >= 0 and course in [0, 360).
func (p Position) Normalized() Position {
	if p.Speed < 0 || math.IsNaN(p.Speed) {
		p.Speed = 0
	}
	p.Course = normalizeCourse(p.Course)
	return p
}

// Coordinate returns the lat/lng of the fix.
func (p Position) Coordinate() Coordinate {
	return Coordinate{Lat: p.Lat, Lng: p.Lng}
}

// DevicePosition pairs a device IMEI with its last fix.
type DevicePosition struct {
	IMEI     string   `bson:"imei" json:"imei"`
	Position Position `bson:"position" json:"position"`
}

func normalizeCourse(c float64) float64 {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	c = math.Mod(c, 360)
	if c < 0 {
		c += 360
	}
	return c
}
