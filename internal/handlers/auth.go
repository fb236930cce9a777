package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ukydev/fleet-tracking/internal/middleware"
	"github.com/ukydev/fleet-tracking/internal/models"
)

var allActions = []string{
	models.ActionViewTracking,
	models.ActionViewFleet,
	models.ActionViewAlerts,
	models.ActionSendCommand,
	models.ActionAssignDevice,
	models.ActionCreateGeofence,
}

// ProfileResponse describes the caller and what the dashboard may show them.
type ProfileResponse struct {
	UserID      string      `json:"user_id"`
	Username    string      `json:"username"`
	Role        models.Role `json:"role"`
	ExpiresAt   int64       `json:"expires_at"`
	Permissions []string    `json:"permissions"`
}

// GetProfile returns the current user's claims and tracking permissions
func GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	permissions := []string{}
	for _, action := range allActions {
		if claims.HasPermission(action) {
			permissions = append(permissions, action)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ProfileResponse{
		UserID:      claims.UserID,
		Username:    claims.Username,
		Role:        claims.Role,
		ExpiresAt:   claims.Exp,
		Permissions: permissions,
	})
}
