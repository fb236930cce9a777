package models

// TrackPoint is a historical sample used for route reconstruction.
type TrackPoint struct {
	Lat       float64   `bson:"lat" json:"lat"`
	Lng       float64   `bson:"lng" json:"lng"`
	Speed     float64   `bson:"speed" json:"speed"`
	Course    float64   `bson:"course" json:"course"`
	Timestamp Timestamp `bson:"timestamp" json:"timestamp"`
}

// TrackStats summarises a track.
type TrackStats struct {
	TotalDistance   float64 `json:"totalDistance"` // km, 2 decimal places
	MaxSpeed        float64 `json:"maxSpeed"`      // km/h
	AvgSpeed        float64 `json:"avgSpeed"`      // km/h
	DurationMinutes float64 `json:"durationMinutes"`
	PointCount      int     `json:"pointCount"`
}

// ETA is a distance/time-to-destination estimate. It is never persisted.
type ETA struct {
	Distance         float64 `json:"distance"` // km
	EstimatedMinutes int     `json:"estimatedMinutes"`
}
