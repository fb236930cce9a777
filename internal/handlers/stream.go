package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-tracking/internal/tracking"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// DeliveryFrame is one WebSocket message on a delivery stream.
type DeliveryFrame struct {
	tracking.DeliveryView
	Stamp int64 `json:"stamp"` // unix ms
}

func frameOf(v tracking.DeliveryView) DeliveryFrame {
	return DeliveryFrame{DeliveryView: v, Stamp: time.Now().UnixMilli()}
}

// StreamDelivery handles GET /deliveries/{imei}/ws. The current view is
// sent on connect, then a frame for every position update until the
// client goes away.
func (h *TrackingHandler) StreamDelivery(w http.ResponseWriter, r *http.Request) {
	dest, err := parseDestination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	imei := mux.Vars(r)["imei"]
	tracker, err := h.hub.Delivery(imei, dest)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer tracker.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.WithFields(logrus.Fields{"imei": imei, "remote": conn.RemoteAddr().String()})
	log.Info("Delivery stream opened")
	defer log.Info("Delivery stream closed")

	// Reader: handles pongs and notices the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	views, stop := tracker.Watch()
	defer stop()

	send := func(v tracking.DeliveryView) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frameOf(v)); err != nil {
			log.WithError(err).Debug("Delivery frame write failed")
			return false
		}
		return true
	}

	if !send(tracker.View()) {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case v, ok := <-views:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if !send(v) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
