// In-process bounded-queue broadcast hub for telemetry samples
package bus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"uavsim/internal/telemetry"
)

// Policy controls what happens when a subscriber queue is full.
type Policy string

const (
	// DropOldest evicts the oldest queued sample to make room. The publisher
	// never blocks on a slow subscriber.
	DropOldest Policy = "drop-oldest"
	// Block applies back-pressure to the publisher until the subscriber
	// drains its queue.
	Block Policy = "block"
)

var (
	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uavsim_bus_published_total",
		Help: "Telemetry samples published to the bus.",
	})
	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uavsim_bus_dropped_total",
		Help: "Samples dropped per subscriber under the drop-oldest policy.",
	}, []string{"subscriber"})
)

// Bus fans each published sample out to all subscribers. Samples from a
// single publisher goroutine reach every subscriber in emission order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	policy Policy
	buffer int
	closed bool
}

// Subscription is one subscriber's bounded delivery queue.
type Subscription struct {
	name    string
	ch      chan telemetry.Data
	policy  Policy
	dropped uint64
	mu      sync.Mutex
}

// C returns the receive channel. It is closed when the bus shuts down or the
// subscription is cancelled.
func (s *Subscription) C() <-chan telemetry.Data { return s.ch }

// Name returns the subscriber name given at Subscribe time.
func (s *Subscription) Name() string { return s.name }

// Dropped returns how many samples were evicted from this subscription.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// New creates a bus with the given default queue policy and buffer size.
func New(policy Policy, buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	if policy != Block {
		policy = DropOldest
	}
	return &Bus{
		subs:   make(map[string]*Subscription),
		policy: policy,
		buffer: buffer,
	}
}

// Subscribe registers a named subscriber. Subscribing twice under the same
// name replaces the previous subscription and closes its channel.
func (b *Bus) Subscribe(name string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[name]; ok {
		close(old.ch)
	}
	sub := &Subscription{
		name:   name,
		ch:     make(chan telemetry.Data, b.buffer),
		policy: b.policy,
	}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[name] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[name]; ok {
		delete(b.subs, name)
		close(sub.ch)
	}
}

// Publish fans the sample out to all current subscribers. It returns false
// once the bus is closed.
func (b *Bus) Publish(sample telemetry.Data) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	publishedTotal.Inc()
	for _, sub := range b.subs {
		sub.deliver(sample)
	}
	return true
}

func (s *Subscription) deliver(sample telemetry.Data) {
	if s.policy == Block {
		s.ch <- sample
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.ch <- sample:
		return
	default:
	}
	// Queue full: evict the oldest entry, then retry once. The retry can
	// still lose to a concurrent reader, in which case the send succeeds.
	select {
	case <-s.ch:
		s.dropped++
		droppedTotal.WithLabelValues(s.name).Inc()
	default:
	}
	select {
	case s.ch <- sample:
	default:
		s.dropped++
		droppedTotal.WithLabelValues(s.name).Inc()
	}
}

// Close stops the bus. Publishes after Close are rejected; every subscriber
// channel is closed so consumers drain whatever was already queued and exit.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for name, sub := range b.subs {
		delete(b.subs, name)
		close(sub.ch)
	}
}
