package db

import (
	"context"

	"github.com/ukydev/fleet-tracking/internal/models"
)

// CommandCollection defines the interface for command audit operations.
type CommandCollection interface {
	InsertCommand(ctx context.Context, record models.CommandRecord) error
	FindCommands(ctx context.Context, imei string, limit int) ([]models.CommandRecord, error)
}

// AlertCollection defines the interface for alert archive operations.
type AlertCollection interface {
	UpsertAlert(ctx context.Context, alert models.Alert) (bool, error)
	FindAlerts(ctx context.Context, deviceID string, limit int) ([]models.Alert, error)
}
