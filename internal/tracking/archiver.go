package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-tracking/internal/events"
	"github.com/ukydev/fleet-tracking/internal/models"
)

// AlertArchive persists alerts. UpsertAlert reports whether the alert was new.
type AlertArchive interface {
	UpsertAlert(ctx context.Context, alert models.Alert) (bool, error)
}

// AlertArchiver stores every alert the fleet-wide alert source reports and
// publishes the ones that appear after it started.
type AlertArchiver struct {
	hub       *Hub
	archive   AlertArchive
	publisher events.Publisher
	limit     int
	log       *logrus.Entry

	// seen maps alerts on the latest page to whether their archive write
	// succeeded. A present key has already been announced or seeded.
	mu     sync.Mutex
	seen   map[string]bool
	seeded bool
}

// NewAlertArchiver creates an archiver. archive and publisher may be nil.
func NewAlertArchiver(hub *Hub, archive AlertArchive, publisher events.Publisher, limit int) *AlertArchiver {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &AlertArchiver{
		hub:       hub,
		archive:   archive,
		publisher: publisher,
		limit:     limit,
		log:       hub.log.WithField("worker", "alert-archiver"),
		seen:      make(map[string]bool),
	}
}

// Run processes alert updates until ctx is done.
func (a *AlertArchiver) Run(ctx context.Context) {
	sub := a.hub.Alerts("", a.limit)
	defer sub.Close()

	updates, stop := sub.Watch()
	defer stop()

	a.log.Info("Alert archiver started")
	for {
		select {
		case <-ctx.Done():
			a.log.Info("Alert archiver stopped")
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if st.Err != nil {
				continue
			}
			a.process(ctx, st.Data)
		}
	}
}

type pendingAlert struct {
	alert    models.Alert
	key      string
	announce bool
}

// process archives unseen alerts and returns how many were published.
// The first batch only seeds the seen set. An alert whose archive write
// fails is retried on the next batch without being published again.
func (a *AlertArchiver) process(ctx context.Context, alerts []models.Alert) int {
	a.mu.Lock()
	first := !a.seeded
	a.seeded = true
	page := make(map[string]struct{}, len(alerts))
	var pending []pendingAlert
	for _, alert := range alerts {
		key := alertKey(alert)
		page[key] = struct{}{}
		archived, known := a.seen[key]
		if archived {
			continue
		}
		if alert.ID == "" {
			alert.ID = key
		}
		pending = append(pending, pendingAlert{alert: alert, key: key, announce: !first && !known})
	}
	// An empty page leaves the set untouched.
	if len(page) > 0 {
		for key := range a.seen {
			if _, ok := page[key]; !ok {
				delete(a.seen, key)
			}
		}
	}
	a.mu.Unlock()

	published := 0
	for _, p := range pending {
		archived := true
		if a.archive != nil {
			if _, err := a.archive.UpsertAlert(ctx, p.alert); err != nil {
				a.log.WithError(err).WithField("alert_id", p.alert.ID).Error("Failed to archive alert")
				archived = false
			}
		}
		a.mu.Lock()
		a.seen[p.key] = archived
		a.mu.Unlock()

		if !p.announce {
			continue
		}
		if err := events.PublishJSON(ctx, a.publisher, events.AlertSubject(p.alert.DeviceID), p.alert); err != nil {
			a.log.WithError(err).WithField("alert_id", p.alert.ID).Warn("Failed to publish alert")
			continue
		}
		published++
	}

	if len(pending) > 0 {
		a.log.WithFields(logrus.Fields{"new": len(pending), "published": published}).Debug("Alerts archived")
	}
	return published
}

func alertKey(alert models.Alert) string {
	if alert.ID != "" {
		return alert.ID
	}
	return fmt.Sprintf("%s|%s|%s", alert.DeviceID, alert.Type, alert.Timestamp.UTC().Format(time.RFC3339Nano))
}
