package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-tracking/internal/models"
	"github.com/ukydev/fleet-tracking/internal/tracking"
)

const (
	defaultWait  = 5 * time.Second
	defaultTrack = 24 * time.Hour
)

// Mutator is the provider write surface used by the gateway.
type Mutator interface {
	CreateGeofence(ctx context.Context, fence models.Geofence) (*models.Geofence, error)
	AssignDevice(ctx context.Context, imei, vehicleID, transporterID string) error
}

// TrackingHandler serves the polled sources and provider mutations.
type TrackingHandler struct {
	hub      *tracking.Hub
	mutator  Mutator
	log      *logrus.Entry
	wait     time.Duration
	upgrader websocket.Upgrader
}

// NewTrackingHandler creates a handler. wait bounds how long a snapshot
// request waits for a source's first fetch; zero uses five seconds.
func NewTrackingHandler(hub *tracking.Hub, mutator Mutator, logger *logrus.Logger, wait time.Duration) *TrackingHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if wait <= 0 {
		wait = defaultWait
	}
	return &TrackingHandler{
		hub:     hub,
		mutator: mutator,
		log:     logger.WithField("component", "handlers"),
		wait:    wait,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ListDevices handles GET /devices.
func (h *TrackingHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, snapshotOf(awaitState(r.Context(), h.hub.Devices(), h.wait)))
}

// GetDevice handles GET /devices/{imei}.
func (h *TrackingHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	sub, err := h.hub.Device(mux.Vars(r)["imei"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(awaitState(r.Context(), sub, h.wait)))
}

// GetPosition handles GET /devices/{imei}/position.
func (h *TrackingHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	sub, err := h.hub.Position(mux.Vars(r)["imei"], 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(awaitState(r.Context(), sub, h.wait)))
}

// ListPositions handles GET /positions.
func (h *TrackingHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, snapshotOf(awaitState(r.Context(), h.hub.AllPositions(0), h.wait)))
}

// TrackResponse is a track snapshot with its statistics.
type TrackResponse struct {
	SnapshotResponse
	Stats *models.TrackStats `json:"stats"`
}

// GetTrack handles GET /devices/{imei}/track?from&to. Both bounds are
// RFC 3339; the default window is the last 24 hours.
func (h *TrackingHandler) GetTrack(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.Add(-defaultTrack)

	q := r.URL.Query()
	var err error
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
			return
		}
		if q.Get("from") == "" {
			from = to.Add(-defaultTrack)
		}
	}
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
			return
		}
	}
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	sub, err := h.hub.TrackHistory(mux.Vars(r)["imei"], from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st := awaitState(r.Context(), sub, h.wait)
	writeJSON(w, http.StatusOK, TrackResponse{
		SnapshotResponse: snapshotOf(st),
		Stats:            tracking.ComputeTrackStats(st.Data),
	})
}

// ListAlerts handles GET /alerts?imei&limit.
func (h *TrackingHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, snapshotOf(awaitState(r.Context(), h.hub.Alerts(q.Get("imei"), limit), h.wait)))
}

// parseDestination reads the optional lat/lng pair. Both or neither must be set.
func parseDestination(r *http.Request) (*models.Coordinate, error) {
	q := r.URL.Query()
	latStr, lngStr := q.Get("lat"), q.Get("lng")
	if latStr == "" && lngStr == "" {
		return nil, nil
	}
	if latStr == "" || lngStr == "" {
		return nil, errors.New("lat and lng must be provided together")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, errors.New("invalid lat")
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil || lng < -180 || lng > 180 {
		return nil, errors.New("invalid lng")
	}
	return &models.Coordinate{Lat: lat, Lng: lng}, nil
}

// GetDelivery handles GET /deliveries/{imei}?lat&lng.
func (h *TrackingHandler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	dest, err := parseDestination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tracker, err := h.hub.Delivery(mux.Vars(r)["imei"], dest)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer tracker.Close()

	ctx, cancel := context.WithTimeout(r.Context(), h.wait)
	defer cancel()
	view, _ := tracker.WaitLoaded(ctx)
	writeJSON(w, http.StatusOK, view)
}

type assignRequest struct {
	VehicleID     string `json:"vehicleId"`
	TransporterID string `json:"transporterId"`
}

// AssignDevice handles POST /devices/{imei}/assign.
func (h *TrackingHandler) AssignDevice(w http.ResponseWriter, r *http.Request) {
	imei := mux.Vars(r)["imei"]

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.VehicleID == "" || req.TransporterID == "" {
		writeError(w, http.StatusBadRequest, "vehicleId and transporterId are required")
		return
	}

	if err := h.mutator.AssignDevice(r.Context(), imei, req.VehicleID, req.TransporterID); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.log.WithFields(logrus.Fields{"imei": imei, "vehicle_id": req.VehicleID}).Info("Device assigned")
	writeJSON(w, http.StatusOK, map[string]string{"status": "assigned"})
}

// CreateGeofence handles POST /geofences.
func (h *TrackingHandler) CreateGeofence(w http.ResponseWriter, r *http.Request) {
	var fence models.Geofence
	if err := json.NewDecoder(r.Body).Decode(&fence); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := fence.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.mutator.CreateGeofence(r.Context(), fence)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}
