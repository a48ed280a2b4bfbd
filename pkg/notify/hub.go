// Package notify fans photo status updates out to in-process
// subscribers, keyed by topic.
package notify

import "sync"

// TopicAll receives every status update.
const TopicAll = "photo-status/all"

// TopicPhoto names the per-photo topic.
func TopicPhoto(photoID string) string {
	return "photo-status/" + photoID
}

const subscriberBuffer = 64

// StatusUpdate is the payload pushed to subscribers and serialized
// onto WebSocket connections.
type StatusUpdate struct {
	PhotoID   string `json:"photoId"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Subscriber receives updates for the topics it is registered on. A
// subscriber that stops draining loses its oldest updates; publishes
// never block on it.
type Subscriber struct {
	ch chan StatusUpdate
}

// C is the receive side. It is closed by Hub.Unsubscribe.
func (s *Subscriber) C() <-chan StatusUpdate {
	return s.ch
}

// Hub routes updates to subscribers. All state is process-local;
// cross-process consumers observe changes through the store instead.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber on the given topics.
func (h *Hub) Subscribe(topics ...string) *Subscriber {
	sub := &Subscriber{ch: make(chan StatusUpdate, subscriberBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.add(sub, topic)
	}
	return sub
}

// Unsubscribe removes the subscriber from every topic and closes its
// channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, subs := range h.topics {
		if _, ok := subs[sub]; !ok {
			continue
		}
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	close(sub.ch)
}

// Add registers an existing subscriber on one more topic.
func (h *Hub) Add(sub *Subscriber, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.add(sub, topic)
}

// Remove drops one topic from the subscriber without closing it.
func (h *Hub) Remove(sub *Subscriber, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

func (h *Hub) add(sub *Subscriber, topic string) {
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
}

// Publish delivers the update to every subscriber on the topic.
// Sends never block: a full subscriber sheds its oldest update first.
// The read lock also excludes Unsubscribe, so a send cannot race the
// channel close.
func (h *Hub) Publish(topic string, update StatusUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.topics[topic] {
		push(sub.ch, update)
	}
}

func push(ch chan StatusUpdate, update StatusUpdate) {
	for {
		select {
		case ch <- update:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
