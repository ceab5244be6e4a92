// Package hub fans normalized events out to live UI subscribers.
package hub

import (
	"sync"

	"tgtriage/internal/constants"
	"tgtriage/internal/metrics"
	"tgtriage/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Subscriber is one live connection's inbox. Events are delivered in publish order.
type Subscriber struct {
	id     string
	events chan models.Event
	done   chan struct{}
	once   sync.Once
}

// ID returns the subscriber's log identifier
func (s *Subscriber) ID() string { return s.id }

// Events yields events in the order they were published
func (s *Subscriber) Events() <-chan models.Event { return s.events }

// Done is closed once the subscriber has been removed from the hub
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub holds the live subscriber set
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]*Subscriber
	publishMu sync.Mutex
	buffer    int
	logger    *logrus.Logger
}

// New creates a hub whose subscribers buffer up to buffer events
func New(buffer int, logger *logrus.Logger) *Hub {
	if buffer <= 0 {
		buffer = constants.DefaultSubscriberBufferSize
	}
	return &Hub{
		subs:   make(map[string]*Subscriber),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new live subscriber
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		id:     uuid.NewString(),
		events: make(chan models.Event, h.buffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	metrics.SetGauge(metrics.HubSubscribers, float64(n), nil, "Connected live subscribers")
	h.logger.WithFields(logrus.Fields{
		"component":     "hub",
		"subscriber_id": sub.id,
		"subscribers":   n,
	}).Debug("Subscriber connected")
	return sub
}

// Unsubscribe removes sub; calling it twice is harmless
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.remove(sub, "disconnected")
}

func (h *Hub) remove(sub *Subscriber, reason string) bool {
	h.mu.Lock()
	_, ok := h.subs[sub.id]
	if ok {
		delete(h.subs, sub.id)
	}
	n := len(h.subs)
	h.mu.Unlock()

	sub.close()
	if !ok {
		return false
	}

	metrics.SetGauge(metrics.HubSubscribers, float64(n), nil, "Connected live subscribers")
	h.logger.WithFields(logrus.Fields{
		"component":     "hub",
		"subscriber_id": sub.id,
		"subscribers":   n,
		"reason":        reason,
	}).Debug("Subscriber removed")
	return true
}

// Publish delivers ev to every subscriber without blocking. A subscriber that
// is closed or whose buffer is full is removed during the call. It returns the
// number of subscribers that received the event.
func (h *Hub) Publish(ev models.Event) int {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	var failed []*Subscriber
	for _, sub := range targets {
		select {
		case <-sub.done:
			failed = append(failed, sub)
			continue
		default:
		}

		select {
		case sub.events <- ev:
			delivered++
		default:
			failed = append(failed, sub)
		}
	}

	for _, sub := range failed {
		if h.remove(sub, "delivery failed") {
			metrics.IncrementCounter(metrics.HubPruned, nil, "Subscribers pruned after failed delivery")
			h.logger.WithFields(logrus.Fields{
				"component":     "hub",
				"subscriber_id": sub.id,
			}).Warn("Pruned subscriber after failed delivery")
		}
	}

	metrics.IncrementCounter(metrics.HubPublished, nil, "Events published to the hub")
	metrics.AddToCounter(metrics.HubDelivered, float64(delivered), nil, "Event deliveries to subscribers")
	return delivered
}

// Len reports the number of registered subscribers
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close removes every subscriber, ending their connections
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	metrics.SetGauge(metrics.HubSubscribers, 0, nil, "Connected live subscribers")
}
