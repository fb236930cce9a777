package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ukydev/fleet-tracking/internal/models"
)

// DefaultAlertLimit is used when Alerts is called with limit <= 0.
const DefaultAlertLimit = 50

// isoLayout matches the millisecond UTC timestamps the provider expects.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Reads are fail-soft: on any failure they return an empty slice or nil
// together with the error, which has already been logged. Callers that only
// render data can use the value and ignore the error.

// Devices lists every device registered with the provider.
func (c *Client) Devices(ctx context.Context) ([]models.Device, error) {
	devices := []models.Device{}
	if err := c.fetch(ctx, "devices", "/api/devices", nil, &devices, devicesFields); err != nil {
		return []models.Device{}, err
	}
	for i := range devices {
		devices[i].Position = normalizedPtr(devices[i].Position)
	}
	return devices, nil
}

// DeviceByIMEI returns one device. A 404 yields nil and an error matching ErrNotFound.
func (c *Client) DeviceByIMEI(ctx context.Context, imei string) (*models.Device, error) {
	var device models.Device
	if err := c.fetch(ctx, "device", devicePath(imei), nil, &device, deviceFields); err != nil {
		return nil, err
	}
	device.Position = normalizedPtr(device.Position)
	return &device, nil
}

// LastPosition returns the latest fix of a device.
func (c *Client) LastPosition(ctx context.Context, imei string) (*models.Position, error) {
	var pos models.Position
	if err := c.fetch(ctx, "position", devicePath(imei)+"/position", nil, &pos, positionFields); err != nil {
		return nil, err
	}
	pos = pos.Normalized()
	return &pos, nil
}

// AllPositions returns the latest fix of every device.
func (c *Client) AllPositions(ctx context.Context) ([]models.DevicePosition, error) {
	positions := []models.DevicePosition{}
	if err := c.fetch(ctx, "positions", "/api/positions", nil, &positions, positionsFields); err != nil {
		return []models.DevicePosition{}, err
	}
	for i := range positions {
		positions[i].Position = positions[i].Position.Normalized()
	}
	return positions, nil
}

// TrackHistory returns the track of a device between from and to, in the
// order the provider returns it (ascending timestamp).
func (c *Client) TrackHistory(ctx context.Context, imei string, from, to time.Time) ([]models.TrackPoint, error) {
	query := url.Values{}
	query.Set("from", from.UTC().Format(isoLayout))
	query.Set("to", to.UTC().Format(isoLayout))

	track := []models.TrackPoint{}
	if err := c.fetch(ctx, "track", devicePath(imei)+"/track", query, &track, trackFields); err != nil {
		return []models.TrackPoint{}, err
	}
	return track, nil
}

// Alerts returns recent alerts, for one device when imei is set.
func (c *Client) Alerts(ctx context.Context, imei string, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if imei != "" {
		query.Set("imei", imei)
	}

	alerts := []models.Alert{}
	if err := c.fetch(ctx, "alerts", "/api/alerts", query, &alerts, alertsFields); err != nil {
		return []models.Alert{}, err
	}
	for i := range alerts {
		alerts[i].Position = normalizedPtr(alerts[i].Position)
	}
	return alerts, nil
}

// CreateGeofence creates a geofence and returns it as stored by the provider.
func (c *Client) CreateGeofence(ctx context.Context, fence models.Geofence) (*models.Geofence, error) {
	if err := fence.Validate(); err != nil {
		return nil, fmt.Errorf("create geofence: %w", err)
	}
	fence.ID = ""

	var created models.Geofence
	err := c.fetchEnvelope(ctx, http.MethodPost, "/api/geofences", nil, fence, &created, geofenceFields)
	if err != nil {
		c.logFailure("create_geofence", err)
		return nil, fmt.Errorf("create geofence: %w", err)
	}
	return &created, nil
}

type assignRequest struct {
	VehicleID     string `json:"vehicleId"`
	TransporterID string `json:"transporterId"`
	AssignedAt    string `json:"assignedAt"`
}

// AssignDevice binds a device to a vehicle and its transporter.
func (c *Client) AssignDevice(ctx context.Context, imei, vehicleID, transporterID string) error {
	payload := assignRequest{
		VehicleID:     vehicleID,
		TransporterID: transporterID,
		AssignedAt:    c.now().UTC().Format(isoLayout),
	}
	if _, err := c.send(ctx, http.MethodPost, devicePath(imei)+"/assign", nil, payload); err != nil {
		c.logFailure("assign_device", err)
		return fmt.Errorf("assign device: %w", err)
	}
	return nil
}

type commandRequest struct {
	Command models.Command `json:"command"`
}

// SendCommand sends an actuation command to a device.
func (c *Client) SendCommand(ctx context.Context, imei string, command models.Command) error {
	if !models.IsValidCommand(command) {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, command)
	}
	if _, err := c.send(ctx, http.MethodPost, devicePath(imei)+"/command", nil, commandRequest{Command: command}); err != nil {
		c.logFailure("send_command", err)
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

func devicePath(imei string) string {
	return "/api/devices/" + url.PathEscape(imei)
}

func normalizedPtr(p *models.Position) *models.Position {
	if p == nil {
		return nil
	}
	n := p.Normalized()
	return &n
}
