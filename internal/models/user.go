package models

// Role represents dashboard roles issued by the backend
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleModerator   Role = "moderator"
	RoleTransporter Role = "transporter"
	RoleClient      Role = "client"
)

// Claims represents JWT claims
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Exp      int64  `json:"exp"`
}

// Tracking actions checked by HasPermission.
const (
	ActionViewTracking   = "view_tracking"
	ActionViewFleet      = "view_fleet"
	ActionViewAlerts     = "view_alerts"
	ActionSendCommand    = "send_command"
	ActionAssignDevice   = "assign_device"
	ActionCreateGeofence = "create_geofence"
)

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleModerator, RoleTransporter, RoleClient:
		return true
	default:
		return false
	}
}

// HasPermission checks if the claims' role allows a tracking action
func (c *Claims) HasPermission(action string) bool {
	switch c.Role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return action == ActionViewTracking || action == ActionViewFleet ||
			action == ActionViewAlerts || action == ActionAssignDevice ||
			action == ActionCreateGeofence
	case RoleTransporter:
		return action == ActionViewTracking || action == ActionViewAlerts ||
			action == ActionSendCommand
	case RoleClient:
		return action == ActionViewTracking
	default:
		return false
	}
}
