package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPosition_Normalized(t *testing.T) {
	tests := []struct {
		name       string
		in         Position
		wantSpeed  float64
		wantCourse float64
	}{
		{"valid fix untouched", Position{Speed: 45, Course: 90}, 45, 90},
		{"negative speed clamped", Position{Speed: -3, Course: 10}, 0, 10},
		{"course 360 wraps to 0", Position{Speed: 1, Course: 360}, 1, 0},
		{"course above 360", Position{Speed: 1, Course: 725}, 1, 5},
		{"negative course", Position{Speed: 1, Course: -90}, 1, 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.in.Normalized()
			assert.Equal(t, tt.wantSpeed, out.Speed)
			assert.InDelta(t, tt.wantCourse, out.Course, 1e-9)
		})
	}
}

func TestIsValidCommand(t *testing.T) {
	for _, c := range []Command{CommandEngineOff, CommandEngineOn, CommandLock, CommandUnlock, CommandLocate} {
		assert.True(t, IsValidCommand(c), string(c))
	}
	assert.False(t, IsValidCommand("self_destruct"))
	assert.False(t, IsValidCommand(""))
}

func TestGeofence_Validate(t *testing.T) {
	center := []Coordinate{{Lat: 6.5, Lng: 3.3}}
	square := []Coordinate{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}, {Lat: 1, Lng: 0}}

	tests := []struct {
		name    string
		fence   Geofence
		wantErr bool
	}{
		{"valid circle", Geofence{Name: "depot", Type: GeofenceCircle, Coordinates: center, Radius: 500}, false},
		{"circle without radius", Geofence{Name: "depot", Type: GeofenceCircle, Coordinates: center}, true},
		{"circle with two centers", Geofence{Name: "depot", Type: GeofenceCircle, Coordinates: square[:2], Radius: 10}, true},
		{"valid polygon", Geofence{Name: "zone", Type: GeofencePolygon, Coordinates: square}, false},
		{"polygon with two vertices", Geofence{Name: "zone", Type: GeofencePolygon, Coordinates: square[:2]}, true},
		{"missing name", Geofence{Type: GeofencePolygon, Coordinates: square}, true},
		{"unknown type", Geofence{Name: "x", Type: "hexagon", Coordinates: square}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fence.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
