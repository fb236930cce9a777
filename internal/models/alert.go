package models

import "errors"

// AlertType enumerates the provider's alert kinds.
type AlertType string

const (
	AlertGeofenceEnter AlertType = "geofence_enter"
	AlertGeofenceExit  AlertType = "geofence_exit"
	AlertOverspeed     AlertType = "overspeed"
	AlertLowBattery    AlertType = "low_battery"
	AlertSOS           AlertType = "sos"
	AlertVibration     AlertType = "vibration"
)

// Alert is an event raised by the provider for a device.
type Alert struct {
	ID        string    `bson:"_id" json:"id"`
	DeviceID  string    `bson:"device_id" json:"deviceId"`
	Type      AlertType `bson:"type" json:"type"`
	Message   string    `bson:"message" json:"message"`
	Timestamp Timestamp `bson:"timestamp" json:"timestamp"`
	Position  *Position `bson:"position,omitempty" json:"position,omitempty"`
}

// GeofenceType is the shape of a geofence.
type GeofenceType string

const (
	GeofenceCircle  GeofenceType = "circle"
	GeofencePolygon GeofenceType = "polygon"
)

// Geofence is a virtual boundary owned by the provider.
type Geofence struct {
	ID          string       `json:"id,omitempty"`
	Name        string       `json:"name"`
	Type        GeofenceType `json:"type"`
	Coordinates []Coordinate `json:"coordinates"`
	Radius      float64      `json:"radius,omitempty"` // metres, circles only
}

// Validate checks the shape constraints before the geofence is sent to the provider.
func (g Geofence) Validate() error {
	if g.Name == "" {
		return errors.New("geofence name is required")
	}
	switch g.Type {
	case GeofenceCircle:
		if len(g.Coordinates) != 1 {
			return errors.New("circle geofence needs exactly one center coordinate")
		}
		if g.Radius <= 0 {
			return errors.New("circle geofence needs a positive radius")
		}
	case GeofencePolygon:
		if len(g.Coordinates) < 3 {
			return errors.New("polygon geofence needs at least three vertices")
		}
	default:
		return errors.New("geofence type must be circle or polygon")
	}
	return nil
}
