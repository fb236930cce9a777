package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-tracking/internal/commands"
	"github.com/ukydev/fleet-tracking/internal/db"
	"github.com/ukydev/fleet-tracking/internal/middleware"
	"github.com/ukydev/fleet-tracking/internal/models"
)

const defaultHistoryLimit = 20

// CommandHandler exposes the command dispatcher and its audit trail.
type CommandHandler struct {
	dispatcher *commands.Dispatcher
	history    db.CommandCollection
	log        *logrus.Entry
}

// NewCommandHandler creates a handler. history may be nil when no audit
// store is configured.
func NewCommandHandler(dispatcher *commands.Dispatcher, history db.CommandCollection, logger *logrus.Logger) *CommandHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CommandHandler{
		dispatcher: dispatcher,
		history:    history,
		log:        logger.WithField("component", "handlers"),
	}
}

type commandRequest struct {
	Command models.Command `json:"command"`
}

// SendCommand handles POST /devices/{imei}/command.
func (h *CommandHandler) SendCommand(w http.ResponseWriter, r *http.Request) {
	imei := mux.Vars(r)["imei"]

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	issuedBy := ""
	if claims, ok := middleware.GetUserFromContext(r.Context()); ok {
		issuedBy = claims.UserID
	}

	err := h.dispatcher.Dispatch(r.Context(), imei, req.Command, issuedBy)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.dispatcher.State(imei))
	case errors.Is(err, commands.ErrCommandInFlight):
		writeJSON(w, http.StatusConflict, h.dispatcher.State(imei))
	case errors.Is(err, commands.ErrUnknownCommand), errors.Is(err, commands.ErrMissingIMEI):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusBadGateway, h.dispatcher.State(imei))
	}
}

// GetCommandState handles GET /devices/{imei}/command.
func (h *CommandHandler) GetCommandState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.State(mux.Vars(r)["imei"]))
}

// GetCommandHistory handles GET /devices/{imei}/command/history?limit.
func (h *CommandHandler) GetCommandHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "command history is not configured")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	imei := mux.Vars(r)["imei"]
	records, err := h.history.FindCommands(r.Context(), imei, limit)
	if err != nil {
		h.log.WithError(err).WithField("imei", imei).Error("Failed to load command history")
		writeError(w, http.StatusInternalServerError, "failed to load command history")
		return
	}
	if records == nil {
		records = []models.CommandRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
