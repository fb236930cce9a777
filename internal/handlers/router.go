package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-tracking/internal/middleware"
	"github.com/ukydev/fleet-tracking/internal/models"
)

// RouterConfig carries everything NewRouter mounts.
type RouterConfig struct {
	Tracking  *TrackingHandler
	Commands  *CommandHandler
	Archive   *ArchiveHandler
	Auth      *middleware.AuthMiddleware
	RateLimit *middleware.RateLimitMiddleware

	CommandRateLimit  int
	CommandRateWindow time.Duration

	Logger *logrus.Logger
}

// NewRouter builds the gateway routes. Everything under /api/tracking
// requires a valid token and each route is gated on a Claims.HasPermission
// action; /health is open.
func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(cfg.Logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	api := router.PathPrefix("/api/tracking").Subrouter()
	api.Use(cfg.Auth.Authenticate)

	can := func(action string, h http.HandlerFunc) http.Handler {
		return cfg.Auth.RequirePermission(action)(h)
	}

	rateLimit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimit != nil {
		rateLimit = cfg.RateLimit.RateLimit(cfg.CommandRateLimit, cfg.CommandRateWindow)
	}

	t := cfg.Tracking
	api.HandleFunc("/me", GetProfile).Methods("GET")
	api.Handle("/devices", can(models.ActionViewTracking, t.ListDevices)).Methods("GET")
	api.Handle("/devices/{imei}", can(models.ActionViewTracking, t.GetDevice)).Methods("GET")
	api.Handle("/devices/{imei}/position", can(models.ActionViewTracking, t.GetPosition)).Methods("GET")
	api.Handle("/devices/{imei}/track", can(models.ActionViewTracking, t.GetTrack)).Methods("GET")
	api.Handle("/positions", can(models.ActionViewFleet, t.ListPositions)).Methods("GET")
	api.Handle("/alerts", can(models.ActionViewAlerts, t.ListAlerts)).Methods("GET")
	api.Handle("/deliveries/{imei}", can(models.ActionViewTracking, t.GetDelivery)).Methods("GET")
	api.Handle("/deliveries/{imei}/ws", can(models.ActionViewTracking, t.StreamDelivery)).Methods("GET")
	api.Handle("/geofences", can(models.ActionCreateGeofence, t.CreateGeofence)).Methods("POST")
	api.Handle("/devices/{imei}/assign", can(models.ActionAssignDevice, t.AssignDevice)).Methods("POST")

	if c := cfg.Commands; c != nil {
		sendCommand := cfg.Auth.RequirePermission(models.ActionSendCommand)(rateLimit(http.HandlerFunc(c.SendCommand)))
		api.Handle("/devices/{imei}/command", sendCommand).Methods("POST")
		api.Handle("/devices/{imei}/command", can(models.ActionSendCommand, c.GetCommandState)).Methods("GET")
		api.Handle("/devices/{imei}/command/history", can(models.ActionSendCommand, c.GetCommandHistory)).Methods("GET")
	}
	if a := cfg.Archive; a != nil {
		api.Handle("/alerts/archive", can(models.ActionViewAlerts, a.ListArchivedAlerts)).Methods("GET")
	}

	return router
}
