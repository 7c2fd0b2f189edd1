package broadcast

import (
	"sync"

	"github.com/liveshoplabs/reserve/internal/metrics"
)

// Topic names for the two subscription channels exposed to clients.
func StockTopic(productID string) string { return "stock:" + productID }
func UserTopic(userID string) string     { return "user:" + userID + ":reservations" }

// subscriber channel buffer. A consumer that falls further behind than
// this drops messages; the snapshot-on-reconnect contract covers the gap.
const subscriberBuffer = 16

// Hub maintains per-topic subscriber sets and fans published payloads out
// to them. Delivery is at-most-once per subscriber: sends never block.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers a new subscriber channel on every given topic.
func (h *Hub) Subscribe(topics []string) chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	for _, topic := range topics {
		set, ok := h.subs[topic]
		if !ok {
			set = make(map[chan []byte]struct{})
			h.subs[topic] = set
		}
		set[ch] = struct{}{}
	}
	h.mu.Unlock()
	metrics.SubscriberGauge.Inc()
	return ch
}

// Unsubscribe removes the channel from the given topics and closes it.
func (h *Hub) Unsubscribe(topics []string, ch chan []byte) {
	h.mu.Lock()
	removed := false
	for _, topic := range topics {
		set, ok := h.subs[topic]
		if !ok {
			continue
		}
		if _, ok := set[ch]; ok {
			delete(set, ch)
			removed = true
		}
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
	h.mu.Unlock()
	if removed {
		metrics.SubscriberGauge.Dec()
		close(ch)
	}
}

// Publish sends payload to every subscriber of topic. Slow subscribers
// with a full buffer are skipped.
func (h *Hub) Publish(topic string, payload []byte) {
	h.mu.RLock()
	chans := make([]chan []byte, 0, len(h.subs[topic]))
	for ch := range h.subs[topic] {
		chans = append(chans, ch)
	}
	h.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- payload:
		default:
		}
	}
}

// SubscriberCount returns the number of subscriptions on a topic.
// Useful for testing.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
