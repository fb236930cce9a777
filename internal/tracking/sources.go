package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/ukydev/fleet-tracking/internal/models"
)

// Refresh cadence per source, chosen by how fast the data changes.
const (
	DevicesInterval      = 30 * time.Second
	DeviceInterval       = 10 * time.Second
	PositionInterval     = 5 * time.Second
	AllPositionsInterval = 10 * time.Second
	AlertsInterval       = 30 * time.Second
)

// DefaultAlertLimit matches the provider's default page size.
const DefaultAlertLimit = 50

// Devices subscribes to the device roster.
func (h *Hub) Devices() *Subscription[[]models.Device] {
	return subscribe(h, "tracker-devices", DevicesInterval, h.provider.Devices)
}

// Device subscribes to a single device.
func (h *Hub) Device(imei string) (*Subscription[*models.Device], error) {
	if imei == "" {
		return nil, ErrMissingIMEI
	}
	return subscribe(h, "tracker-device-"+imei, DeviceInterval, func(ctx context.Context) (*models.Device, error) {
		return h.provider.DeviceByIMEI(ctx, imei)
	}), nil
}

// Position subscribes to the live position of a device. interval <= 0 uses
// PositionInterval. The first subscriber of an IMEI sets the cadence.
func (h *Hub) Position(imei string, interval time.Duration) (*Subscription[*models.Position], error) {
	if imei == "" {
		return nil, ErrMissingIMEI
	}
	if interval <= 0 {
		interval = PositionInterval
	}
	return subscribe(h, "tracker-position-"+imei, interval, func(ctx context.Context) (*models.Position, error) {
		return h.provider.LastPosition(ctx, imei)
	}), nil
}

// AllPositions subscribes to the fleet overview. interval <= 0 uses AllPositionsInterval.
func (h *Hub) AllPositions(interval time.Duration) *Subscription[[]models.DevicePosition] {
	if interval <= 0 {
		interval = AllPositionsInterval
	}
	return subscribe(h, "tracker-all-positions", interval, h.provider.AllPositions)
}

// Alerts subscribes to recent alerts, for one device when imei is set.
func (h *Hub) Alerts(imei string, limit int) *Subscription[[]models.Alert] {
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	scope := imei
	if scope == "" {
		scope = "all"
	}
	key := fmt.Sprintf("tracker-alerts-%s-%d", scope, limit)
	return subscribe(h, key, AlertsInterval, func(ctx context.Context) ([]models.Alert, error) {
		return h.provider.Alerts(ctx, imei, limit)
	})
}

// TrackHistory loads a track once; it is not polled. Refresh re-queries it.
func (h *Hub) TrackHistory(imei string, from, to time.Time) (*Subscription[[]models.TrackPoint], error) {
	if imei == "" {
		return nil, ErrMissingIMEI
	}
	key := fmt.Sprintf("tracker-history-%s-%s-%s", imei, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	return subscribe(h, key, 0, func(ctx context.Context) ([]models.TrackPoint, error) {
		return h.provider.TrackHistory(ctx, imei, from, to)
	}), nil
}
