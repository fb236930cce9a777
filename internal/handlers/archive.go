package handlers

import (
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-tracking/internal/db"
	"github.com/ukydev/fleet-tracking/internal/models"
)

// ArchiveHandler serves archived alerts. The live alert source only holds
// the provider's latest page.
type ArchiveHandler struct {
	alerts db.AlertCollection
	log    *logrus.Entry
}

func NewArchiveHandler(alerts db.AlertCollection, logger *logrus.Logger) *ArchiveHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ArchiveHandler{alerts: alerts, log: logger.WithField("component", "handlers")}
}

// ListArchivedAlerts handles GET /alerts/archive?imei&limit.
func (h *ArchiveHandler) ListArchivedAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "alert archive is not configured")
		return
	}

	q := r.URL.Query()
	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	alerts, err := h.alerts.FindAlerts(r.Context(), q.Get("imei"), limit)
	if err != nil {
		h.log.WithError(err).Error("Failed to load archived alerts")
		writeError(w, http.StatusInternalServerError, "failed to load archived alerts")
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}
