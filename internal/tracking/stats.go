package tracking

import (
	"math"

	"github.com/ukydev/fleet-tracking/internal/geo"
	"github.com/ukydev/fleet-tracking/internal/models"
)

// ComputeTrackStats summarises a track. It returns nil for fewer than two points.
//
// Speeds are taken from the second point onward, while the average divides
// by the full point count. The result is an approximation, not a
// time-weighted mean.
func ComputeTrackStats(points []models.TrackPoint) *models.TrackStats {
	if len(points) < 2 {
		return nil
	}

	var distance, maxSpeed, speedSum float64
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		distance += geo.Distance(prev.Lat, prev.Lng, cur.Lat, cur.Lng)
		speedSum += cur.Speed
		if cur.Speed > maxSpeed {
			maxSpeed = cur.Speed
		}
	}

	duration := points[len(points)-1].Timestamp.Sub(points[0].Timestamp.Time)

	return &models.TrackStats{
		TotalDistance:   math.Round(distance*100) / 100,
		MaxSpeed:        math.Round(maxSpeed),
		AvgSpeed:        math.Round(speedSum / float64(len(points))),
		DurationMinutes: math.Round(duration.Minutes()),
		PointCount:      len(points),
	}
}
