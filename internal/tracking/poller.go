package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Fetcher loads one snapshot of a data source.
type Fetcher[T any] func(ctx context.Context) (T, error)

// State is the current value of a polled source.
type State[T any] struct {
	Data      T
	Err       error
	IsLoading bool // true until the first fetch completes
	UpdatedAt time.Time
}

// Poller refreshes a source on a fixed interval and fans the results out to
// watchers. An interval of zero polls once and then only on Refresh.
//
// Every fetch is numbered; a response older than the last applied one is
// dropped, so the state always reflects the newest request that returned.
type Poller[T any] struct {
	key        string
	interval   time.Duration
	maxBackoff time.Duration
	fetch      Fetcher[T]
	log        *logrus.Entry

	mu       sync.RWMutex
	state    State[T]
	issued   uint64
	applied  uint64
	failures int

	wmu      sync.Mutex
	watchers map[chan State[T]]struct{}

	loaded     chan struct{}
	loadedOnce sync.Once

	cancel context.CancelFunc
	done   chan struct{}
}

func newPoller[T any](key string, interval, maxBackoff time.Duration, fetch Fetcher[T], log *logrus.Entry) *Poller[T] {
	return &Poller[T]{
		key:        key,
		interval:   interval,
		maxBackoff: maxBackoff,
		fetch:      fetch,
		log:        log.WithField("source", key),
		state:      State[T]{IsLoading: true},
		watchers:   make(map[chan State[T]]struct{}),
		loaded:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Key returns the cache key of the source.
func (p *Poller[T]) Key() string { return p.key }

// Interval returns the refresh interval; zero means on-demand.
func (p *Poller[T]) Interval() time.Duration { return p.interval }

func (p *Poller[T]) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	go p.run(ctx)
}

// stop cancels the loop and any in-flight fetch, then waits for the loop to exit.
func (p *Poller[T]) stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}

	p.wmu.Lock()
	for ch := range p.watchers {
		delete(p.watchers, ch)
		close(ch)
	}
	p.wmu.Unlock()
}

func (p *Poller[T]) run(ctx context.Context) {
	defer close(p.done)

	p.load(ctx)
	if p.interval <= 0 {
		<-ctx.Done()
		return
	}

	timer := time.NewTimer(p.nextDelay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.load(ctx)
			timer.Reset(p.nextDelay())
		}
	}
}

// Refresh fetches immediately and returns the resulting state.
func (p *Poller[T]) Refresh(ctx context.Context) State[T] {
	return p.load(ctx)
}

// Snapshot returns the current state without fetching.
func (p *Poller[T]) Snapshot() State[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// WaitLoaded blocks until the first fetch has completed or ctx is done.
func (p *Poller[T]) WaitLoaded(ctx context.Context) (State[T], error) {
	select {
	case <-p.loaded:
		return p.Snapshot(), nil
	case <-ctx.Done():
		return p.Snapshot(), ctx.Err()
	}
}

// Watch returns a channel receiving every new state, starting with the
// current one if a fetch has already completed. Slow readers only see the
// latest state. Call the returned func to stop watching.
func (p *Poller[T]) Watch() (<-chan State[T], func()) {
	ch := make(chan State[T], 1)

	p.wmu.Lock()
	p.watchers[ch] = struct{}{}
	select {
	case <-p.loaded:
		ch <- p.Snapshot()
	default:
	}
	p.wmu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.wmu.Lock()
			defer p.wmu.Unlock()
			if _, ok := p.watchers[ch]; ok {
				delete(p.watchers, ch)
				close(ch)
			}
		})
	}
}

func (p *Poller[T]) load(ctx context.Context) State[T] {
	p.mu.Lock()
	p.issued++
	seq := p.issued
	p.mu.Unlock()

	data, err := p.fetch(ctx)
	if ctx.Err() != nil {
		// Cancelled: the subscriber is gone or the request was abandoned.
		return p.Snapshot()
	}

	p.mu.Lock()
	if seq < p.applied {
		st := p.state
		p.mu.Unlock()
		p.log.WithField("seq", seq).Debug("Discarding stale response")
		return st
	}
	p.applied = seq
	if err != nil {
		p.failures++
	} else {
		p.failures = 0
	}
	p.state = State[T]{Data: data, Err: err, UpdatedAt: time.Now()}
	st := p.state
	p.mu.Unlock()

	p.loadedOnce.Do(func() { close(p.loaded) })
	p.notify(st)
	return st
}

func (p *Poller[T]) notify(st State[T]) {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	for ch := range p.watchers {
		select {
		case ch <- st:
		default:
			// Replace the unread state with the newer one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

func (p *Poller[T]) nextDelay() time.Duration {
	p.mu.RLock()
	failures := p.failures
	p.mu.RUnlock()
	return backoffDelay(p.interval, p.maxBackoff, failures)
}

// backoffDelay doubles interval per consecutive failure, capped at max.
// A max not above interval disables backoff.
func backoffDelay(interval, max time.Duration, failures int) time.Duration {
	if failures == 0 || max <= interval {
		return interval
	}
	d := interval
	for i := 0; i < failures && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}
