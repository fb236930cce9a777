// Package tracking turns provider calls into shared, continuously refreshed
// data sources and composes the delivery-tracking view on top of them.
package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-tracking/internal/models"
)

var ErrMissingIMEI = errors.New("device IMEI is required")

// Provider is the subset of the provider client the hub polls.
type Provider interface {
	Devices(ctx context.Context) ([]models.Device, error)
	DeviceByIMEI(ctx context.Context, imei string) (*models.Device, error)
	LastPosition(ctx context.Context, imei string) (*models.Position, error)
	AllPositions(ctx context.Context) ([]models.DevicePosition, error)
	TrackHistory(ctx context.Context, imei string, from, to time.Time) ([]models.TrackPoint, error)
	Alerts(ctx context.Context, imei string, limit int) ([]models.Alert, error)
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithMaxBackoff caps the delay pollers back off to after repeated failures.
// Zero disables backoff.
func WithMaxBackoff(d time.Duration) HubOption {
	return func(h *Hub) { h.maxBackoff = d }
}

// Hub caches pollers by key. Subscriptions to the same key share one poller,
// which stops when the last subscription is closed.
type Hub struct {
	provider   Provider
	log        *logrus.Entry
	maxBackoff time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*hubEntry
}

type stopper interface {
	stop()
}

type hubEntry struct {
	poller stopper
	refs   int
}

// NewHub creates a hub polling p. A nil logger uses the logrus standard logger.
func NewHub(p Provider, logger *logrus.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		provider: p,
		log:      logger.WithField("component", "tracking"),
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*hubEntry),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Close stops every poller.
func (h *Hub) Close() {
	h.mu.Lock()
	entries := h.entries
	h.entries = make(map[string]*hubEntry)
	h.mu.Unlock()

	h.cancel()
	for _, e := range entries {
		e.poller.stop()
	}
}

// Active returns the number of running pollers.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Subscription is a handle on a shared poller.
type Subscription[T any] struct {
	*Poller[T]
	once    sync.Once
	release func()
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(s.release)
}

// subscribe returns a subscription to key, starting its poller if needed.
// Keys are namespaced per source so one key always maps to one T.
func subscribe[T any](h *Hub, key string, interval time.Duration, fetch Fetcher[T]) *Subscription[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[key]
	if !ok {
		p := newPoller(key, interval, h.maxBackoff, fetch, h.log)
		p.start(h.ctx)
		e = &hubEntry{poller: p}
		h.entries[key] = e
		h.log.WithFields(logrus.Fields{"source": key, "interval": interval.String()}).Debug("Poller started")
	}
	e.refs++

	return &Subscription[T]{
		Poller:  e.poller.(*Poller[T]),
		release: func() { h.release(key, e) },
	}
}

func (h *Hub) release(key string, e *hubEntry) {
	h.mu.Lock()
	e.refs--
	last := e.refs <= 0 && h.entries[key] == e
	if last {
		delete(h.entries, key)
	}
	h.mu.Unlock()

	if last {
		e.poller.stop()
		h.log.WithField("source", key).Debug("Poller stopped")
	}
}
