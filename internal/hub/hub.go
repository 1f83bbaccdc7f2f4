package hub

import (
	"log/slog"
	"sync"

	"orderflow/internal/domain"
	"orderflow/internal/infra"
)

const (
	// DefaultQueueSize is the per-subscription envelope buffer.
	DefaultQueueSize = 64

	// DefaultDropCloseThreshold is how many drops a slow subscriber may
	// accumulate before the hub terminates it.
	DefaultDropCloseThreshold = 256
)

// Subscription is one subscriber's view of the envelope stream. Envelopes
// arrive on C in publication order; C is closed when the subscription is
// terminated by the hub or released by Unsubscribe.
type Subscription struct {
	id      uint64
	symbols map[string]struct{}

	ch chan *domain.MetricsEnvelope

	mu           sync.Mutex
	droppedCount int
	closed       bool
	terminated   bool
}

// C returns the envelope delivery channel.
func (s *Subscription) C() <-chan *domain.MetricsEnvelope {
	return s.ch
}

// Matches reports whether the subscription wants envelopes for the
// symbol. An empty symbol set matches everything.
func (s *Subscription) Matches(symbol string) bool {
	if len(s.symbols) == 0 {
		return true
	}
	_, ok := s.symbols[symbol]
	return ok
}

// DroppedCount returns how many envelopes backpressure has discarded.
func (s *Subscription) DroppedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedCount
}

// Terminated reports whether the hub closed this subscription for
// falling too far behind.
func (s *Subscription) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// deliver enqueues one envelope, discarding the oldest queued envelope
// when the buffer is full. Returns true when the drop threshold is
// crossed and the subscription has been closed.
func (s *Subscription) deliver(env *domain.MetricsEnvelope, threshold int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- env:
		return false
	default:
	}

	// Queue full: evict the oldest entry to make room for the newest.
	select {
	case <-s.ch:
	default:
	}
	s.ch <- env

	s.droppedCount++
	infra.GlobalMetrics.RecordDrop()

	if s.droppedCount > threshold {
		s.closed = true
		s.terminated = true
		close(s.ch)
		return true
	}
	return false
}

// release closes the channel and drains whatever is still queued.
func (s *Subscription) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	for range s.ch {
	}
}

// Hub fans assembled envelopes out to subscribers. Registration uses a
// single critical section; delivery iterates over a snapshot of the
// subscriber set so a slow subscriber never blocks registration.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	queueSize     int
	dropThreshold int
}

// NewHub creates a hub with the given queue size and drop-close
// threshold; non-positive values take the defaults.
func NewHub(queueSize, dropThreshold int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if dropThreshold <= 0 {
		dropThreshold = DefaultDropCloseThreshold
	}
	return &Hub{
		subs:          make(map[uint64]*Subscription),
		queueSize:     queueSize,
		dropThreshold: dropThreshold,
	}
}

// Subscribe registers a subscriber for the given symbols. An empty list
// subscribes to every symbol.
func (h *Hub) Subscribe(symbols []string) *Subscription {
	set := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		if sym != "" {
			set[sym] = struct{}{}
		}
	}

	h.mu.Lock()
	h.nextID++
	sub := &Subscription{
		id:      h.nextID,
		symbols: set,
		ch:      make(chan *domain.MetricsEnvelope, h.queueSize),
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	infra.GlobalMetrics.IncrementSubscribers()
	return sub
}

// Unsubscribe removes the subscription and releases its queue before
// returning.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, present := h.subs[sub.id]
	delete(h.subs, sub.id)
	h.mu.Unlock()

	if present {
		sub.release()
		infra.GlobalMetrics.DecrementSubscribers()
	}
}

// Publish delivers the envelope to every subscription whose symbol set
// matches. Subscribers that crossed the drop threshold are removed.
func (h *Hub) Publish(env *domain.MetricsEnvelope) {
	h.mu.RLock()
	snapshot := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	for _, sub := range snapshot {
		if !sub.Matches(env.Symbol) {
			continue
		}
		if sub.deliver(env, h.dropThreshold) {
			h.mu.Lock()
			delete(h.subs, sub.id)
			h.mu.Unlock()

			infra.GlobalMetrics.DecrementSubscribers()
			slog.Warn("Subscriber terminated for backpressure",
				slog.Uint64("subscription_id", sub.id),
				slog.Int("dropped", sub.DroppedCount()),
			)
		}
	}
}

// SubscriberCount returns the number of registered subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
