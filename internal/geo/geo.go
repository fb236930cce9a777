// Package geo holds the great-circle math used for tracking.
package geo

import (
	"math"

	"github.com/ukydev/fleet-tracking/internal/models"
)

const (
	// EarthRadiusKm is the mean Earth radius used by Distance.
	EarthRadiusKm = 6371.0

	// FallbackSpeedKmh is assumed when a vehicle reports no speed.
	FallbackSpeedKmh = 40.0
)

// Distance returns the haversine distance in km between two lat/lng points.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// EstimateArrival estimates distance and minutes from pos to the destination.
// A stationary vehicle is assumed to travel at FallbackSpeedKmh.
func EstimateArrival(pos models.Position, destLat, destLng float64) models.ETA {
	distance := Distance(pos.Lat, pos.Lng, destLat, destLng)

	speed := pos.Speed
	if speed <= 0 {
		speed = FallbackSpeedKmh
	}

	return models.ETA{
		Distance:         distance,
		EstimatedMinutes: int(math.Round(distance / speed * 60)),
	}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
