// internal/broadcast/hub.go
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Subscriber is one in-process listener, typically a websocket write pump.
type Subscriber struct {
	ID      uuid.UUID
	OutChan chan []byte
	topics  []string
}

// Topics returns the topics s listens on.
func (s *Subscriber) Topics() []string {
	return append([]string(nil), s.topics...)
}

// Hub fans published frames out to in-process subscribers. Delivery never
// blocks: a subscriber whose buffer is full misses the frame, and the next
// periodic sync brings it back up to date.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uuid.UUID]*Subscriber
	logger *logrus.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		subs:   make(map[string]map[uuid.UUID]*Subscriber),
		logger: logger,
	}
}

// Subscribe registers a new subscriber on topics with an OutChan of the given
// buffer size.
func (h *Hub) Subscribe(buffer int, topics ...string) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	s := &Subscriber{
		ID:      uuid.New(),
		OutChan: make(chan []byte, buffer),
		topics:  append([]string(nil), topics...),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		set, ok := h.subs[t]
		if !ok {
			set = make(map[uuid.UUID]*Subscriber)
			h.subs[t] = set
		}
		set[s.ID] = s
	}
	return s
}

// Unsubscribe removes s from every topic and closes its OutChan. Calling it
// more than once is safe.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	registered := false
	for _, t := range s.topics {
		set, ok := h.subs[t]
		if !ok {
			continue
		}
		if _, ok := set[s.ID]; ok {
			registered = true
			delete(set, s.ID)
		}
		if len(set) == 0 {
			delete(h.subs, t)
		}
	}
	if registered {
		close(s.OutChan)
	}
}

// SubscriberCount returns the number of subscribers on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Publish encodes payload as JSON and delivers it to topic's subscribers.
func (h *Hub) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}
	h.Deliver(topic, data)
	return nil
}

// Deliver wraps data in an Envelope and offers it to every subscriber of
// topic. It returns how many subscribers accepted the frame.
func (h *Hub) Deliver(topic string, data []byte) int {
	frame, err := json.Marshal(Envelope{Topic: topic, Data: data})
	if err != nil {
		h.logger.WithField("topic", topic).Warnf("hub: dropping unencodable frame: %v", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, s := range h.subs[topic] {
		select {
		case s.OutChan <- frame:
			delivered++
		default:
			h.logger.WithFields(logrus.Fields{
				"topic":      topic,
				"subscriber": s.ID,
			}).Warn("hub: OutChan full, frame dropped")
		}
	}
	return delivered
}
