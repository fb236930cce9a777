package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-tracking/internal/models"
)

// tokenStore issues bearer tokens that expire after ttl.
type tokenStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	tokens map[string]time.Time
}

func newTokenStore(ttl time.Duration) *tokenStore {
	return &tokenStore{ttl: ttl, now: time.Now, tokens: make(map[string]time.Time)}
}

func (s *tokenStore) issue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for tok, exp := range s.tokens {
		if !now.Before(exp) {
			delete(s.tokens, tok)
		}
	}
	tok := uuid.New().String()
	s.tokens[tok] = now.Add(s.ttl)
	return tok
}

func (s *tokenStore) valid(tok string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.tokens[tok]
	return ok && s.now().Before(exp)
}

// providerServer exposes the fleet over the provider's HTTP API.
type providerServer struct {
	fleet  *fleet
	tokens *tokenStore
	appID  string
	appKey string
}

func (s *providerServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/auth/token", s.issueToken).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireToken)
	api.HandleFunc("/devices", s.listDevices).Methods("GET")
	api.HandleFunc("/devices/{imei}", s.getDevice).Methods("GET")
	api.HandleFunc("/devices/{imei}/position", s.getPosition).Methods("GET")
	api.HandleFunc("/devices/{imei}/track", s.getTrack).Methods("GET")
	api.HandleFunc("/devices/{imei}/assign", s.assign).Methods("POST")
	api.HandleFunc("/devices/{imei}/command", s.command).Methods("POST")
	api.HandleFunc("/positions", s.listPositions).Methods("GET")
	api.HandleFunc("/alerts", s.listAlerts).Methods("GET")
	api.HandleFunc("/geofences", s.createGeofence).Methods("POST")
	return r
}

func reply(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *providerServer) issueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID  string `json:"appId"`
		AppKey string `json:"appKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reply(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.AppID != s.appID || req.AppKey != s.appKey {
		log.WithField("app_id", req.AppID).Warn("Rejected token request")
		reply(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	reply(w, http.StatusOK, map[string]interface{}{
		"access_token": s.tokens.issue(),
		"expires_in":   int64(s.tokens.ttl / time.Second),
	})
}

func (s *providerServer) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tok == "" || !s.tokens.valid(tok) {
			reply(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			return
		}
		if r.Header.Get("X-App-Id") != s.appID {
			reply(w, http.StatusForbidden, map[string]string{"error": "unknown app"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *providerServer) listDevices(w http.ResponseWriter, r *http.Request) {
	reply(w, http.StatusOK, map[string]interface{}{"devices": s.fleet.devices()})
}

func (s *providerServer) getDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.fleet.device(mux.Vars(r)["imei"])
	if !ok {
		reply(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	reply(w, http.StatusOK, map[string]interface{}{"device": d})
}

func (s *providerServer) getPosition(w http.ResponseWriter, r *http.Request) {
	p, ok := s.fleet.position(mux.Vars(r)["imei"])
	if !ok {
		reply(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	reply(w, http.StatusOK, map[string]interface{}{"position": p})
}

func (s *providerServer) getTrack(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	q := r.URL.Query()
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			reply(w, http.StatusBadRequest, map[string]string{"error": "invalid from"})
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			reply(w, http.StatusBadRequest, map[string]string{"error": "invalid to"})
			return
		}
	}
	track, ok := s.fleet.track(mux.Vars(r)["imei"], from, to)
	if !ok {
		reply(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	reply(w, http.StatusOK, map[string]interface{}{"track": track})
}

func (s *providerServer) listPositions(w http.ResponseWriter, r *http.Request) {
	reply(w, http.StatusOK, map[string]interface{}{"positions": s.fleet.positions()})
}

func (s *providerServer) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	reply(w, http.StatusOK, map[string]interface{}{"alerts": s.fleet.recentAlerts(q.Get("imei"), limit)})
}

func (s *providerServer) createGeofence(w http.ResponseWriter, r *http.Request) {
	var fence models.Geofence
	if err := json.NewDecoder(r.Body).Decode(&fence); err != nil {
		reply(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if err := fence.Validate(); err != nil {
		reply(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	created := s.fleet.addGeofence(fence)
	log.WithFields(log.Fields{"geofence_id": created.ID, "name": created.Name}).Info("Created geofence")
	reply(w, http.StatusCreated, map[string]interface{}{"geofence": created})
}

func (s *providerServer) assign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VehicleID     string `json:"vehicleId"`
		TransporterID string `json:"transporterId"`
		AssignedAt    string `json:"assignedAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VehicleID == "" || req.TransporterID == "" {
		reply(w, http.StatusBadRequest, map[string]string{"error": "vehicleId and transporterId are required"})
		return
	}
	imei := mux.Vars(r)["imei"]
	if !s.fleet.assign(imei, req.VehicleID, req.TransporterID, req.AssignedAt) {
		reply(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	log.WithFields(log.Fields{"imei": imei, "vehicle_id": req.VehicleID}).Info("Assigned device")
	reply(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *providerServer) command(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command models.Command `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !models.IsValidCommand(req.Command) {
		reply(w, http.StatusBadRequest, map[string]string{"error": "unknown command"})
		return
	}
	imei := mux.Vars(r)["imei"]
	if !s.fleet.apply(imei, req.Command) {
		reply(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	log.WithFields(log.Fields{"imei": imei, "command": req.Command}).Info("Applied command")
	reply(w, http.StatusOK, map[string]bool{"success": true})
}
