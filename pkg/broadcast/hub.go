package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"rsvp/pkg/logger"
	"rsvp/pkg/model"
)

var (
	// ErrSlowSubscriber is reported once a subscriber's buffer overflowed.
	// The client is expected to reconnect and resynchronize.
	ErrSlowSubscriber = errors.New("subscriber fell behind and was evicted")

	ErrUnsubscribed = errors.New("subscription closed")

	ErrHubClosed = errors.New("broadcast hub closed")
)

const DefaultBuffer = 64

// Subscription is one viewer attached to one event topic.
type Subscription struct {
	id      uint64
	eventID string
	ch      chan model.CapacityChangeFact
	hub     *Hub

	mu  sync.Mutex
	err error
}

// C yields facts until the subscription ends; then it is closed.
func (s *Subscription) C() <-chan model.CapacityChangeFact {
	return s.ch
}

func (s *Subscription) EventID() string {
	return s.eventID
}

// Err explains why C was closed. Nil while the subscription is live.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe detaches the subscription. Calling it more than once is fine.
func (s *Subscription) Unsubscribe() {
	s.hub.remove(s, ErrUnsubscribed)
}

type HubStats struct {
	Topics      int   `json:"topics"`
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Evicted     int64 `json:"evicted"`
}

// Hub is the in-process topic registry. Publishing never waits on a
// subscriber: a full buffer evicts that subscriber instead.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
	log    *logger.Logger

	published atomic.Int64
	delivered atomic.Int64
	evicted   atomic.Int64
}

func NewHub(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		topics: make(map[string]map[uint64]*Subscription),
		buffer: buffer,
		log:    log,
	}
}

func (h *Hub) Subscribe(eventID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	h.nextID++
	sub := &Subscription{
		id:      h.nextID,
		eventID: eventID,
		ch:      make(chan model.CapacityChangeFact, h.buffer),
		hub:     h,
	}

	subs, ok := h.topics[eventID]
	if !ok {
		subs = make(map[uint64]*Subscription)
		h.topics[eventID] = subs
	}
	subs[sub.id] = sub

	h.log.Debug("subscriber attached", "topic", Topic(eventID), "subscribers", len(subs))
	return sub, nil
}

func (h *Hub) Publish(_ context.Context, fact model.CapacityChangeFact) {
	h.published.Add(1)

	var slow []*Subscription
	h.mu.RLock()
	for _, sub := range h.topics[fact.EventID] {
		select {
		case sub.ch <- fact:
			h.delivered.Add(1)
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		if h.remove(sub, ErrSlowSubscriber) {
			h.evicted.Add(1)
			h.log.Warn("evicted slow subscriber",
				"topic", Topic(fact.EventID),
				"version", fact.Version,
			)
		}
	}
}

// remove closes sub with reason. It reports whether this call detached it.
func (h *Hub) remove(sub *Subscription, reason error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[sub.eventID]
	if !ok {
		return false
	}
	if _, ok := subs[sub.id]; !ok {
		return false
	}

	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(h.topics, sub.eventID)
	}
	sub.close(reason)
	return true
}

func (s *Subscription) close(reason error) {
	s.mu.Lock()
	s.err = reason
	s.mu.Unlock()
	close(s.ch)
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := HubStats{
		Topics:    len(h.topics),
		Published: h.published.Load(),
		Delivered: h.delivered.Load(),
		Evicted:   h.evicted.Load(),
	}
	for _, subs := range h.topics {
		stats.Subscribers += len(subs)
	}
	return stats
}

// Close ends every subscription with ErrHubClosed and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for eventID, subs := range h.topics {
		for _, sub := range subs {
			sub.close(ErrHubClosed)
		}
		delete(h.topics, eventID)
	}
}
