package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"playlistsync/internal/domain"
	"playlistsync/internal/metrics"
)

// DefaultBuffer is the per-subscriber queue size when the caller does not
// pick one.
const DefaultBuffer = 64

// Bus fans events out to subscribers. Publishing never blocks: when a
// subscriber's queue is full the oldest queued event is dropped and the
// subscriber's drop counter incremented.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	logger *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe registers a queue receiving events that match the filter.
func (b *Bus) Subscribe(filter Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{
		bus:    b,
		filter: filter,
		ch:     make(chan domain.Event, buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.markDetached()
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	b.logger.Debug("bus subscriber added", slog.Int("total", len(b.subs)))
	return s
}

// Publish delivers the event to every matching subscriber without ever
// waiting on a slow consumer.
func (b *Bus) Publish(event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if !s.filter.Matches(event) {
			continue
		}
		s.offer(event)
	}
}

// SubscriberCount reports how many subscriptions are active.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches and closes every subscription. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.markDetached()
		close(s.ch)
		delete(b.subs, s)
	}
	b.logger.Debug("bus closed, all subscribers disconnected")
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
	b.logger.Debug("bus subscriber removed", slog.Int("total", len(b.subs)))
}

// Subscription is one consumer's lossy event queue.
type Subscription struct {
	bus      *Bus
	filter   Filter
	ch       chan domain.Event
	dropped  atomic.Uint64
	detached atomic.Bool
}

// Events is the receive side of the queue. It is closed when the
// subscription or the bus closes.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Dropped reports how many events were discarded because the queue was
// full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Filter returns the subscription's filter.
func (s *Subscription) Filter() Filter {
	return s.filter
}

// Close detaches the subscription from the bus and closes its channel.
func (s *Subscription) Close() {
	if s.detached.Swap(true) {
		return
	}
	s.bus.unsubscribe(s)
}

func (s *Subscription) markDetached() {
	s.detached.Store(true)
}

// offer enqueues without blocking, evicting the oldest queued event when
// full. Runs under the bus read lock so the channel cannot close mid-send.
func (s *Subscription) offer(event domain.Event) {
	select {
	case s.ch <- event:
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
		metrics.EventsDroppedTotal.Inc()
	default:
	}
	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
		metrics.EventsDroppedTotal.Inc()
	}
}
