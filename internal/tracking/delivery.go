package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/ukydev/fleet-tracking/internal/geo"
	"github.com/ukydev/fleet-tracking/internal/models"
)

// DeliveryView is what a customer sees while a delivery is on its way.
type DeliveryView struct {
	Position  *models.Position `json:"position"`
	ETA       *models.ETA      `json:"eta"`
	IsMoving  bool             `json:"isMoving"`
	Speed     float64          `json:"speed"`
	Heading   float64          `json:"heading"`
	IsLoading bool             `json:"isLoading"`
	Error     string           `json:"error,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// DeliveryViewOf derives the view from a position state. ETA is nil without
// a position or a destination.
func DeliveryViewOf(st State[*models.Position], dest *models.Coordinate) DeliveryView {
	v := DeliveryView{
		Position:  st.Data,
		IsLoading: st.IsLoading,
		UpdatedAt: st.UpdatedAt,
	}
	if st.Err != nil {
		v.Error = st.Err.Error()
	}
	if st.Data == nil {
		return v
	}
	v.Speed = st.Data.Speed
	v.Heading = st.Data.Course
	v.IsMoving = st.Data.Speed > 0
	if dest != nil {
		eta := geo.EstimateArrival(*st.Data, dest.Lat, dest.Lng)
		v.ETA = &eta
	}
	return v
}

// DeliveryTracker follows one device toward a destination.
type DeliveryTracker struct {
	sub  *Subscription[*models.Position]
	dest *models.Coordinate

	mu     sync.Mutex
	stops  []func()
	closed bool
}

// Delivery subscribes to the live position of imei. dest may be nil when
// the destination is not known yet.
func (h *Hub) Delivery(imei string, dest *models.Coordinate) (*DeliveryTracker, error) {
	sub, err := h.Position(imei, PositionInterval)
	if err != nil {
		return nil, err
	}
	return &DeliveryTracker{sub: sub, dest: dest}, nil
}

// View returns the current view.
func (d *DeliveryTracker) View() DeliveryView {
	return DeliveryViewOf(d.sub.Snapshot(), d.dest)
}

// WaitLoaded blocks until the first position fetch completes or ctx is done.
func (d *DeliveryTracker) WaitLoaded(ctx context.Context) (DeliveryView, error) {
	st, err := d.sub.WaitLoaded(ctx)
	return DeliveryViewOf(st, d.dest), err
}

// Refresh re-fetches the position now.
func (d *DeliveryTracker) Refresh(ctx context.Context) DeliveryView {
	return DeliveryViewOf(d.sub.Refresh(ctx), d.dest)
}

// Watch streams a new view for every position update. The channel closes
// when the tracker is closed or the returned func is called.
func (d *DeliveryTracker) Watch() (<-chan DeliveryView, func()) {
	states, stop := d.sub.Watch()
	out := make(chan DeliveryView, 1)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		stop()
		close(out)
		return out, func() {}
	}
	d.stops = append(d.stops, stop)
	d.mu.Unlock()

	go func() {
		defer close(out)
		for st := range states {
			v := DeliveryViewOf(st, d.dest)
			select {
			case out <- v:
			default:
				select {
				case <-out:
				default:
				}
				out <- v
			}
		}
	}()
	return out, stop
}

// Close stops all watchers and releases the position subscription.
func (d *DeliveryTracker) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	stops := d.stops
	d.stops = nil
	d.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	d.sub.Close()
}
